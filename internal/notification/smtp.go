package notification

import (
	"net/smtp"
)

// SMTPAuth carries the credentials for one SMTP delivery.
type SMTPAuth struct {
	Username string
	Password string
	Host     string
	StartTLS bool
}

// smtpSend delivers mail through net/smtp. smtp.SendMail negotiates STARTTLS
// automatically when the server advertises it.
func smtpSend(addr string, auth SMTPAuth, from string, to []string, msg []byte) error {
	var a smtp.Auth
	if auth.Username != "" {
		a = smtp.PlainAuth("", auth.Username, auth.Password, auth.Host)
	}
	return smtp.SendMail(addr, a, from, to, msg)
}
