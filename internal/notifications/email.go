package notifications

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"fmt"
	"html/template"
	"net/smtp"
	"time"

	"github.com/rs/zerolog"
)

//go:embed templates/*.html
var templateFS embed.FS

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	From     string `yaml:"from" json:"from"`
	TLS      bool   `yaml:"tls" json:"tls"`
	Subject  string `yaml:"subject" json:"subject"`
}

// Validate checks if the SMTP configuration is valid.
func (c *SMTPConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("smtp host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("smtp port is required")
	}
	if c.From == "" {
		return fmt.Errorf("smtp from address is required")
	}
	return nil
}

// EmailSender delivers codes over SMTP.
type EmailSender struct {
	config    SMTPConfig
	templates *template.Template
	logger    zerolog.Logger
}

// NewEmailSender creates an email delivery channel.
func NewEmailSender(config SMTPConfig, logger zerolog.Logger) (*EmailSender, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid smtp config: %w", err)
	}
	if config.Subject == "" {
		config.Subject = "Your top-up code"
	}

	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}

	return &EmailSender{
		config:    config,
		templates: tmpl,
		logger:    logger.With().Str("component", "email_sender").Logger(),
	}, nil
}

// codeDeliveryData holds data for the code delivery email template.
type codeDeliveryData struct {
	Code   string
	SentAt time.Time
}

// SendCode renders the delivery template and sends it to the target address.
// The plaintext appears only in the message body, never in logs.
func (s *EmailSender) SendCode(ctx context.Context, plaintext, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var body bytes.Buffer
	data := codeDeliveryData{Code: plaintext, SentAt: time.Now().UTC()}
	if err := s.templates.ExecuteTemplate(&body, "code_delivery.html", data); err != nil {
		return fmt.Errorf("execute template code_delivery.html: %w", err)
	}

	s.logger.Debug().
		Str("to", target).
		Msg("sending code delivery email")

	msg := s.buildMessage(target, s.config.Subject, body.String())
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	var err error
	if s.config.TLS {
		err = s.sendTLS(addr, target, msg)
	} else {
		err = s.sendPlain(addr, target, msg)
	}
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("to", target).
			Msg("failed to send code delivery email")
		return fmt.Errorf("send email: %w", err)
	}

	s.logger.Info().
		Str("to", target).
		Msg("code delivery email sent")
	return nil
}

// buildMessage constructs the email message with headers.
func (s *EmailSender) buildMessage(to, subject, htmlBody string) []byte {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("From: %s\r\n", s.config.From))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", to))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(htmlBody)
	return buf.Bytes()
}

// sendPlain sends email without TLS (for port 25 or trusted networks).
func (s *EmailSender) sendPlain(addr, to string, msg []byte) error {
	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	return smtp.SendMail(addr, auth, s.config.From, []string{to}, msg)
}

// sendTLS sends email with TLS (for port 465 or STARTTLS on port 587).
func (s *EmailSender) sendTLS(addr, to string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: s.config.Host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("tls dial: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer client.Close()

	if s.config.Username != "" {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err = client.Mail(s.config.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err = client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to %s: %w", to, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err = w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("close message writer: %w", err)
	}

	return client.Quit()
}
