package email

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/registrar/internal/providers/pdf"
	"go.uber.org/zap"
)

// Receipt describes a completed payment to confirm to the payer.
type Receipt struct {
	To          string
	Description string
	Reference   string
	AmountCents int64
	Discount    int64
	Currency    string
	PaidAt      time.Time
}

type ReceiptRenderer interface {
	RenderReceipt(data pdf.ReceiptData) ([]byte, error)
}

// ReceiptNotifier sends payment receipts. Failures are logged and never
// surfaced to the caller.
type ReceiptNotifier struct {
	provider Provider
	renderer ReceiptRenderer
	orgName  string
	log      *zap.Logger
	timeout  time.Duration
}

func NewReceiptNotifier(provider Provider, log *zap.Logger) *ReceiptNotifier {
	return &ReceiptNotifier{
		provider: provider,
		log:      log.Named("email.receipt"),
		timeout:  30 * time.Second,
	}
}

// WithRenderer attaches a PDF copy of every receipt.
func (n *ReceiptNotifier) WithRenderer(renderer ReceiptRenderer, orgName string) *ReceiptNotifier {
	n.renderer = renderer
	n.orgName = orgName
	return n
}

// Notify sends the receipt on its own goroutine, detached from ctx
// cancellation.
func (n *ReceiptNotifier) Notify(ctx context.Context, receipt Receipt) {
	if n == nil || n.provider == nil {
		return
	}
	to := strings.TrimSpace(receipt.To)
	if to == "" {
		n.log.Debug("receipt skipped, no recipient", zap.String("reference", receipt.Reference))
		return
	}
	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()
		if err := n.Send(sendCtx, receipt); err != nil {
			n.log.Warn("failed to send payment receipt", zap.String("reference", receipt.Reference), zap.Error(err))
		}
	}()
}

func (n *ReceiptNotifier) Send(ctx context.Context, receipt Receipt) error {
	currency := strings.ToUpper(strings.TrimSpace(receipt.Currency))
	data := map[string]any{
		"subject":     "Payment receipt",
		"description": receipt.Description,
		"reference":   receipt.Reference,
		"amount":      formatCents(receipt.AmountCents),
		"currency":    currency,
		"paid_at":     receipt.PaidAt.UTC().Format("2 Jan 2006"),
	}
	if receipt.Discount > 0 {
		data["discount"] = formatCents(receipt.Discount)
	}
	to := []string{strings.TrimSpace(receipt.To)}

	attachment, err := n.renderAttachment(receipt, currency)
	if err != nil {
		// The HTML receipt still goes out.
		n.log.Warn("failed to render receipt pdf", zap.String("reference", receipt.Reference), zap.Error(err))
	}
	if attachment != nil {
		return n.provider.SendTemplate(ctx, to, "payment_receipt", data, *attachment)
	}
	return n.provider.SendTemplate(ctx, to, "payment_receipt", data)
}

func (n *ReceiptNotifier) renderAttachment(receipt Receipt, currency string) (*Attachment, error) {
	if n.renderer == nil {
		return nil, nil
	}
	lines := []pdf.ReceiptLine{{
		Description: receipt.Description,
		Amount:      formatCents(receipt.AmountCents + receipt.Discount),
	}}
	if receipt.Discount > 0 {
		lines = append(lines, pdf.ReceiptLine{
			Description: "Discount",
			Amount:      "-" + formatCents(receipt.Discount),
		})
	}
	doc, err := n.renderer.RenderReceipt(pdf.ReceiptData{
		OrgName:   n.orgName,
		Reference: receipt.Reference,
		PaidOn:    receipt.PaidAt.UTC().Format("2 Jan 2006"),
		Currency:  currency,
		Lines:     lines,
		Total:     formatCents(receipt.AmountCents),
	})
	if err != nil {
		return nil, err
	}
	return &Attachment{
		Filename:    "receipt-" + receipt.Reference + ".pdf",
		ContentType: "application/pdf",
		Data:        doc,
	}, nil
}

func formatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
