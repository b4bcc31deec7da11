package mailer

import (
	"encoding/json"
	"errors"
	"strings"

	tpl "github.com/oksasatya/account-auth/pkg/mailer/templates"
)

// EmailJob is the JSON payload put on the RabbitMQ queue for sending email.
// Either Template (+Data) or a pre-rendered Subject/Text/HTML is set.
type EmailJob struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject,omitempty"`
	Text     string         `json:"text,omitempty"`
	HTML     string         `json:"html,omitempty"`
	Template string         `json:"template,omitempty"` // "verify_email" or "forgot_password"
	Data     map[string]any `json:"data,omitempty"`
}

var ErrEmptyJob = errors.New("email job has no recipient or content")

// Rendered resolves the job into subject, text and html bodies.
func (j EmailJob) Rendered() (subject, text, html string, err error) {
	if strings.TrimSpace(j.To) == "" {
		return "", "", "", ErrEmptyJob
	}
	if j.Template == "" {
		if j.Text == "" && j.HTML == "" {
			return "", "", "", ErrEmptyJob
		}
		return j.Subject, j.Text, j.HTML, nil
	}
	data := j.Data
	if data == nil {
		data = map[string]any{}
	}
	if v, ok := data["Email"]; !ok || v == "" {
		data["Email"] = j.To
	}
	return tpl.Render(strings.ToLower(j.Template), data)
}

// DecodeJob parses a queued message body.
func DecodeJob(body []byte) (EmailJob, error) {
	var job EmailJob
	if err := json.Unmarshal(body, &job); err != nil {
		return EmailJob{}, err
	}
	return job, nil
}
