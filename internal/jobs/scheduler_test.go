package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	cutoff time.Time
	n      int64
	err    error
	calls  int
}

func (f *fakeSweeper) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	f.calls++
	f.cutoff = before
	return f.n, f.err
}

func TestSweepUsesGraceCutoff(t *testing.T) {
	refresh := &fakeSweeper{n: 4}
	reset := &fakeSweeper{n: 2}
	s := NewScheduler("", 0, map[string]Sweeper{"refresh_tokens": refresh, "password_reset_tokens": reset}, zerolog.Nop())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	total := s.Sweep(context.Background())

	assert.Equal(t, int64(6), total)
	assert.Equal(t, now.Add(-7*24*time.Hour), refresh.cutoff)
	assert.Equal(t, now.Add(-7*24*time.Hour), reset.cutoff)
}

func TestSweepContinuesAfterFailure(t *testing.T) {
	broken := &fakeSweeper{err: errors.New("db down")}
	ok := &fakeSweeper{n: 3}
	s := NewScheduler("", time.Hour, map[string]Sweeper{"a": broken, "b": ok}, zerolog.Nop())

	assert.Equal(t, int64(3), s.Sweep(context.Background()))
	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, 1, ok.calls)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := NewScheduler("not a cron spec", time.Hour, map[string]Sweeper{"a": &fakeSweeper{}}, zerolog.Nop())
	require.Error(t, s.Start())
}

func TestStartStop(t *testing.T) {
	s := NewScheduler("", time.Hour, map[string]Sweeper{"a": &fakeSweeper{}}, zerolog.Nop())
	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
