// Package mailer sends transactional email over SMTP.
//
// The SMTP host, port and credentials come from configuration (SMTP_HOST, SMTP_PORT,
// SMTP_USER, SMTP_PASS). Mailtrap (smtp.mailtrap.io:2525) works for development.
package mailer

import (
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPMailer delivers email through an authenticated SMTP relay.
type SMTPMailer struct {
	host string
	port string
	user string
	pass string
	from string

	// send is smtp.SendMail outside tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer creates a mailer for host:port sending as from.
func NewSMTPMailer(host, port, user, pass, from string) (*SMTPMailer, error) {
	if host == "" || port == "" {
		return nil, fmt.Errorf("SMTP host and port must be provided")
	}
	if from == "" {
		return nil, fmt.Errorf("sender email address cannot be empty")
	}
	return &SMTPMailer{host: host, port: port, user: user, pass: pass, from: from, send: smtp.SendMail}, nil
}

// Send sends one email. The Content-Type is text/html when the body looks like HTML.
//
// Returns an error when the recipient or subject is empty, when the connection or
// authentication fails, or when the server rejects the message.
func (m *SMTPMailer) Send(recipient, subject, body string) error {
	if recipient == "" {
		return fmt.Errorf("recipient email address cannot be empty")
	}
	if subject == "" {
		return fmt.Errorf("email subject cannot be empty")
	}

	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.pass, m.host)
	}

	err := m.send(m.host+":"+m.port, auth, m.from, []string{recipient}, buildMessage(m.from, recipient, subject, body))
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func buildMessage(sender, recipient, subject, body string) []byte {
	contentType := "text/plain; charset=UTF-8"
	lower := strings.ToLower(body)
	if strings.Contains(lower, "<html>") || strings.Contains(lower, "<p>") {
		contentType = "text/html; charset=UTF-8"
	}
	return []byte(fmt.Sprintf("To: %s\r\n"+
		"From: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: %s\r\n"+
		"\r\n"+
		"%s\r\n", recipient, sender, subject, contentType, body))
}
