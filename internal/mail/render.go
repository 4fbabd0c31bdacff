package mail

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"text/template"
)

type templateData struct {
	Link   string
	Change string
	AppURL string
}

var templates = map[Kind]struct {
	subject string
	body    *template.Template
}{
	KindVerification: {
		subject: "Verify your LeaseHub email address",
		body: template.Must(template.New("verification").Parse(
			"Welcome to LeaseHub.\n\nConfirm your email address by opening the link below. It expires in 24 hours.\n\n{{.Link}}\n\nIf you did not sign up you can ignore this message.\n")),
	},
	KindPasswordReset: {
		subject: "Reset your LeaseHub password",
		body: template.Must(template.New("password_reset").Parse(
			"We received a request to reset your password.\n\nOpen the link below within one hour to choose a new one.\n\n{{.Link}}\n\nIf you did not ask for this, no action is needed and your password stays the same.\n")),
	},
	KindWelcome: {
		subject: "Your LeaseHub account is ready",
		body: template.Must(template.New("welcome").Parse(
			"Your email address is confirmed. You can now sign in at {{.AppURL}}.\n")),
	},
	KindAccountUpdate: {
		subject: "Your LeaseHub account was updated",
		body: template.Must(template.New("account_update").Parse(
			"This is a notice that your {{.Change}} was changed.\n\nIf this was not you, reset your password at {{.AppURL}} right away.\n")),
	},
}

// Render builds the message for job. Links point at the web app, which posts
// the token back to the API.
func Render(job Job, from, appBaseURL string) (Message, error) {
	if err := job.Validate(); err != nil {
		return Message{}, err
	}
	tpl := templates[job.Kind]

	base := strings.TrimRight(appBaseURL, "/")
	data := templateData{AppURL: base, Change: job.Change}
	switch job.Kind {
	case KindVerification:
		data.Link = base + "/verify-email?token=" + url.QueryEscape(job.Token)
	case KindPasswordReset:
		data.Link = base + "/reset-password?token=" + url.QueryEscape(job.Token)
	}
	if data.Change == "" {
		data.Change = "account"
	}

	var body bytes.Buffer
	if err := tpl.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", job.Kind, err)
	}
	return Message{
		From:    from,
		To:      job.To,
		Subject: tpl.subject,
		Body:    body.String(),
	}, nil
}
