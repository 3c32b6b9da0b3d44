package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strconv"

	mail "gopkg.in/mail.v2"
)

const (
	ReceiptTemplate = "payment_receipt"
	FailedTemplate  = "payment_failed"
)

//go:embed templates
var templateFS embed.FS

type Config struct {
	Host      string
	Port      string
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// Sender is what the payment flows need from the mailer.
type Sender interface {
	SendPaymentReceipt(to string, data ReceiptData) error
	SendPaymentFailed(to string, data FailedData) error
}

type EmailService struct {
	cfg       Config
	dialer    *mail.Dialer
	templates map[string]*template.Template
	send      func(*mail.Message) error
}

type EmailData struct {
	To          string
	Subject     string
	TemplateKey string
	Data        interface{}
}

func NewEmailService(cfg Config) (*EmailService, error) {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP port %q: %w", cfg.Port, err)
	}

	service := &EmailService{
		cfg:       cfg,
		dialer:    mail.NewDialer(cfg.Host, port, cfg.Username, cfg.Password),
		templates: make(map[string]*template.Template),
	}
	service.send = func(m *mail.Message) error {
		return service.dialer.DialAndSend(m)
	}

	if err := service.loadTemplates(); err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	return service, nil
}

func (s *EmailService) loadTemplates() error {
	for _, key := range []string{ReceiptTemplate, FailedTemplate} {
		tmpl, err := template.ParseFS(templateFS, "templates/"+key+".html")
		if err != nil {
			return err
		}
		s.templates[key] = tmpl
	}
	return nil
}

func (s *EmailService) render(key string, data interface{}) (string, error) {
	tmpl, ok := s.templates[key]
	if !ok {
		return "", fmt.Errorf("template %s not found", key)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return body.String(), nil
}

func (s *EmailService) SendEmail(data EmailData) error {
	body, err := s.render(data.TemplateKey, data.Data)
	if err != nil {
		return err
	}

	m := mail.NewMessage()
	m.SetAddressHeader("From", s.cfg.FromEmail, s.cfg.FromName)
	m.SetHeader("To", data.To)
	m.SetHeader("Subject", data.Subject)
	m.SetBody("text/html", body)

	if err := s.send(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

type ReceiptData struct {
	CustomerName string
	Reference    string
	Gateway      string
	Type         string
	Amount       string
	Currency     string
	PaidAt       string
}

func (s *EmailService) SendPaymentReceipt(to string, data ReceiptData) error {
	return s.SendEmail(EmailData{
		To:          to,
		Subject:     fmt.Sprintf("Payment received - %s", data.Reference),
		TemplateKey: ReceiptTemplate,
		Data:        data,
	})
}

type FailedData struct {
	CustomerName string
	Reference    string
	Amount       string
	Currency     string
	RetryURL     string
}

func (s *EmailService) SendPaymentFailed(to string, data FailedData) error {
	return s.SendEmail(EmailData{
		To:          to,
		Subject:     "Your payment was not completed",
		TemplateKey: FailedTemplate,
		Data:        data,
	})
}

// Noop discards mail when SMTP is not configured.
type Noop struct{}

func (Noop) SendPaymentReceipt(string, ReceiptData) error { return nil }
func (Noop) SendPaymentFailed(string, FailedData) error   { return nil }
