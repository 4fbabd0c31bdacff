package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type Kind string

const (
	KindVerification  Kind = "verification"
	KindPasswordReset Kind = "password_reset"
	KindWelcome       Kind = "welcome"
	KindAccountUpdate Kind = "account_update"
)

// Mailer is what the session service needs from outbound mail. Callers treat
// every method as best effort.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, to, token string) error
	SendPasswordResetEmail(ctx context.Context, to, token string) error
	SendWelcomeEmail(ctx context.Context, to string) error
	SendAccountUpdateNotification(ctx context.Context, to, change string) error
}

// Job is one queued email. Token carries a raw one-time token and therefore
// never appears in logs.
type Job struct {
	Kind     Kind      `json:"type"`
	To       string    `json:"to"`
	Token    string    `json:"token,omitempty"`
	Change   string    `json:"change,omitempty"`
	QueuedAt time.Time `json:"queuedAt"`
}

func (j Job) Validate() error {
	if j.To == "" {
		return fmt.Errorf("mail job has no recipient")
	}
	switch j.Kind {
	case KindVerification, KindPasswordReset:
		if j.Token == "" {
			return fmt.Errorf("%s mail job has no token", j.Kind)
		}
	case KindWelcome, KindAccountUpdate:
	default:
		return fmt.Errorf("unknown mail kind %q", j.Kind)
	}
	return nil
}

// Values flattens the job into redis stream fields.
func (j Job) Values() map[string]any {
	return map[string]any{
		"type":     string(j.Kind),
		"to":       j.To,
		"token":    j.Token,
		"change":   j.Change,
		"queuedAt": j.QueuedAt.UTC().Format(time.RFC3339Nano),
	}
}

// DecodeJob reverses Values.
func DecodeJob(values map[string]any) (Job, error) {
	raw, err := json.Marshal(values)
	if err != nil {
		return Job{}, err
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return Job{}, err
	}
	return job, job.Validate()
}

// Message is a rendered email ready for a Sender.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}
