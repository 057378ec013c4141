package notify

import (
	"crypto/tls"
	"fmt"
	"strings"

	gomail "gopkg.in/gomail.v2"

	"iis-rollback/pkg/logger"
	"iis-rollback/pkg/rollback"
)

// Config holds SMTP settings. Empty recipients disable notification.
type Config struct {
	SMTPServer string
	SMTPPort   int
	Sender     string
	Password   string
	Recipients []string
	UseTLS     bool
}

// EmailNotifier renders a rollback result into an HTML+text message and
// sends it over SMTP. Notification is best-effort: failures are logged and
// never alter the result.
type EmailNotifier struct {
	config Config
	send   func(*gomail.Message) error
}

// NewEmailNotifier builds a notifier from the SMTP configuration.
func NewEmailNotifier(config Config) *EmailNotifier {
	dialer := gomail.NewDialer(config.SMTPServer, config.SMTPPort, config.Sender, config.Password)
	if config.UseTLS {
		dialer.TLSConfig = &tls.Config{ServerName: config.SMTPServer}
	}
	return &EmailNotifier{
		config: config,
		send: func(m *gomail.Message) error {
			return dialer.DialAndSend(m)
		},
	}
}

// Enabled reports whether the notifier has somewhere to deliver to.
func (n *EmailNotifier) Enabled() bool {
	return n.config.Sender != "" && len(n.config.Recipients) > 0
}

// Notify sends the outcome of one run to the configured recipients.
func (n *EmailNotifier) Notify(result *rollback.Result) error {
	if !n.Enabled() {
		logger.Log.Debug("Notification disabled, no recipients configured")
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(n.config.Sender, "IIS Rollback"))
	m.SetHeader("To", n.config.Recipients...)
	m.SetHeader("Subject", Subject(result))
	m.SetBody("text/plain", TextBody(result))
	m.AddAlternative("text/html", HTMLBody(result))

	if err := n.send(m); err != nil {
		logger.LogError("notify", "send_email", err)
		return err
	}

	logger.Log.WithFields(map[string]interface{}{
		"recipients": len(n.config.Recipients),
		"outcome":    result.Outcome.String(),
		"component":  "notify",
	}).Info("Notification sent")
	return nil
}

// Subject builds the one-line summary used as the mail subject.
func Subject(result *rollback.Result) string {
	return fmt.Sprintf("[IIS Rollback] %s: %s", result.SiteName, result.Outcome)
}

// TextBody renders the plain-text variant of the notification.
func TextBody(result *rollback.Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Rollback run %s for site %q finished: %s\n", result.RunID, result.SiteName, result.Outcome)
	fmt.Fprintf(&b, "Started:  %s\n", result.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Finished: %s\n", result.FinishedAt.Format("2006-01-02 15:04:05"))

	if result.FailedStep != "" {
		fmt.Fprintf(&b, "Failed step: %s\n", result.FailedStep)
	}
	if msg := result.ErrorMessage(); msg != "" {
		fmt.Fprintf(&b, "Error: %s\n", msg)
	}
	if result.PreventiveBackup != nil {
		fmt.Fprintf(&b, "Preventive backup (kept for manual recovery): %s\n", result.PreventiveBackup.Path)
	}

	if len(result.Steps) > 0 {
		b.WriteString("\nSteps:\n")
		for _, step := range result.Steps {
			status := "ok"
			if !step.Success {
				status = "FAILED"
			}
			fmt.Fprintf(&b, "  %-11s %s  %s\n", step.Name, status, step.Detail)
		}
	}

	return b.String()
}

// HTMLBody renders the HTML variant of the notification.
func HTMLBody(result *rollback.Result) string {
	var b strings.Builder

	color := "#2e7d32"
	if result.Outcome != rollback.OutcomeSuccess {
		color = "#c62828"
	}

	fmt.Fprintf(&b, `<html><body style="font-family: sans-serif">`)
	fmt.Fprintf(&b, `<h2 style="color: %s">Rollback %s — %s</h2>`, color, result.SiteName, result.Outcome)
	fmt.Fprintf(&b, `<p>Run %s<br>Started %s, finished %s</p>`,
		result.RunID,
		result.StartedAt.Format("2006-01-02 15:04:05"),
		result.FinishedAt.Format("2006-01-02 15:04:05"))

	if result.FailedStep != "" {
		fmt.Fprintf(&b, `<p><b>Failed step:</b> %s<br><b>Error:</b> %s</p>`, result.FailedStep, result.ErrorMessage())
	}
	if result.PreventiveBackup != nil {
		fmt.Fprintf(&b, `<p><b>Preventive backup</b> (kept for manual recovery): <code>%s</code></p>`, result.PreventiveBackup.Path)
	}

	if len(result.Steps) > 0 {
		b.WriteString(`<table border="1" cellpadding="4" cellspacing="0"><tr><th>Step</th><th>Status</th><th>Detail</th></tr>`)
		for _, step := range result.Steps {
			status := "ok"
			if !step.Success {
				status = "failed"
			}
			fmt.Fprintf(&b, `<tr><td>%s</td><td>%s</td><td>%s</td></tr>`, step.Name, status, step.Detail)
		}
		b.WriteString(`</table>`)
	}

	b.WriteString(`</body></html>`)
	return b.String()
}
