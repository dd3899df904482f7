package email

import (
	"bytes"
	"context"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var ErrNoRecipients = errors.New("no_recipients")

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPProvider struct {
	cfg  Config
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTP(cfg Config) *SMTPProvider {
	return &SMTPProvider{cfg: cfg, send: smtp.SendMail}
}

func (p *SMTPProvider) Send(ctx context.Context, to []string, subject string, htmlBody string, attachments ...Attachment) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", p.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")

	if len(attachments) == 0 {
		msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
		msg.WriteString(htmlBody)
		return p.send(addr, auth, p.cfg.From, to, msg.Bytes())
	}

	if err := writeMixed(&msg, htmlBody, attachments); err != nil {
		return err
	}
	return p.send(addr, auth, p.cfg.From, to, msg.Bytes())
}

func writeMixed(msg *bytes.Buffer, htmlBody string, attachments []Attachment) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fmt.Fprintf(msg, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())

	htmlPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/html; charset=\"UTF-8\""},
	})
	if err != nil {
		return err
	}
	if _, err := htmlPart.Write([]byte(htmlBody)); err != nil {
		return err
	}

	for _, att := range attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {contentType},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", att.Filename)},
		})
		if err != nil {
			return err
		}
		encoded := base64.StdEncoding.EncodeToString(att.Data)
		for len(encoded) > 76 {
			if _, err := part.Write([]byte(encoded[:76] + "\r\n")); err != nil {
				return err
			}
			encoded = encoded[76:]
		}
		if _, err := part.Write([]byte(encoded + "\r\n")); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}
	_, err = msg.Write(body.Bytes())
	return err
}

func (p *SMTPProvider) SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any, attachments ...Attachment) error {
	body, err := Render(templateName, data)
	if err != nil {
		return err
	}
	subject, _ := data["subject"].(string)
	if subject == "" {
		subject = "Notification"
	}
	return p.Send(ctx, to, subject, body, attachments...)
}

// Render executes one of the embedded templates.
func Render(templateName string, data any) (string, error) {
	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, templateName+".html", data); err != nil {
		return "", fmt.Errorf("render %s template: %w", templateName, err)
	}
	return body.String(), nil
}
