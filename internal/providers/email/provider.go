package email

import "context"

// Attachment is a file sent alongside the HTML body.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string, attachments ...Attachment) error
	SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any, attachments ...Attachment) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, to []string, subject string, htmlBody string, attachments ...Attachment) error {
	return nil
}

func (p *NoOpProvider) SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any, attachments ...Attachment) error {
	return nil
}
