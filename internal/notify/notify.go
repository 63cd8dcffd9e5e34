// Package notify delivers transactional email. Delivery never affects the
// outcome of the write that triggered it.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"text/template"

	"github.com/sirupsen/logrus"
)

// Template names
const (
	TemplateConfirmation = "interview_confirmation"
	TemplateFeedback     = "interview_feedback"
)

// ErrNotConfigured is returned by senders that have no delivery backend
var ErrNotConfigured = errors.New("email service not configured")

// Message is one email to render and deliver
type Message struct {
	Template  string
	Recipient string
	Data      map[string]any
}

// Sender delivers a message and returns the provider's delivery id
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// FeedbackData builds the template data for an interview_feedback message
func FeedbackData(candidateName string, scores any, questionsAnswered int, duration *float64) map[string]any {
	return map[string]any{
		"CandidateName":     candidateName,
		"Scores":            scores,
		"QuestionsAnswered": questionsAnswered,
		"Duration":          duration,
	}
}

var subjects = template.Must(template.New("subjects").Parse(`
{{define "interview_confirmation"}}Interview Confirmation - aippoint AI Interview{{end}}
{{define "interview_feedback"}}Your AI Interview Results - {{.CandidateName}}{{end}}
`))

var bodies = htmltemplate.Must(htmltemplate.New("bodies").Parse(`
{{define "interview_confirmation"}}<!DOCTYPE html>
<html><body>
<h1>Interview Submitted Successfully</h1>
<p>Hi {{with .CandidateName}}{{.}}{{else}}there{{end}},</p>
<p>Thank you for completing your AI interview with <strong>aippoint</strong>. Your responses have been submitted and are now under review.</p>
<p>Detailed feedback will be sent to this address within 24 hours.</p>
<p>Best regards,<br>The aippoint Team</p>
</body></html>{{end}}
{{define "interview_feedback"}}<!DOCTYPE html>
<html><body>
<h1>Interview Completed Successfully</h1>
<p>Hi {{.CandidateName}},</p>
<p>Your responses have been submitted and evaluated.</p>
<table>
<tr><td>Communication</td><td>{{.Scores.Communication}}/100</td></tr>
<tr><td>Technical Skills</td><td>{{.Scores.Technical}}/100</td></tr>
<tr><td>Confidence</td><td>{{.Scores.Confidence}}/100</td></tr>
<tr><td>Overall Score</td><td>{{.Scores.Overall}}/100</td></tr>
</table>
<p>Questions answered: {{.QuestionsAnswered}}</p>
<p>Duration: {{with .Duration}}{{.}} minutes{{else}}Not recorded{{end}}</p>
<p>Best regards,<br>The aippoint Team</p>
</body></html>{{end}}
`))

// render returns the subject and html body for msg
func render(msg Message) (string, string, error) {
	if subjects.Lookup(msg.Template) == nil {
		return "", "", fmt.Errorf("unknown template %q", msg.Template)
	}

	var subject, body bytes.Buffer
	if err := subjects.ExecuteTemplate(&subject, msg.Template, msg.Data); err != nil {
		return "", "", fmt.Errorf("rendering subject: %w", err)
	}
	if err := bodies.ExecuteTemplate(&body, msg.Template, msg.Data); err != nil {
		return "", "", fmt.Errorf("rendering body: %w", err)
	}
	return subject.String(), body.String(), nil
}

// LogSender renders and logs messages without delivering them. Used when
// no provider key is configured.
type LogSender struct {
	log logrus.FieldLogger
}

// NewLogSender creates a LogSender
func NewLogSender(log logrus.FieldLogger) *LogSender {
	return &LogSender{log: log.WithField("component", "notify")}
}

// Send validates the message renders, logs it and reports ErrNotConfigured
func (s *LogSender) Send(ctx context.Context, msg Message) (string, error) {
	subject, _, err := render(msg)
	if err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{
		"template":  msg.Template,
		"recipient": msg.Recipient,
		"subject":   subject,
	}).Warn("email service not configured, skipping send")
	return "", ErrNotConfigured
}
