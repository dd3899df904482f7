package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvoiceNotFound       = errors.New("staging_invoice_not_found")
	ErrPaymentNotCompleted   = errors.New("payment_not_completed")
	ErrUnsupportedReason     = errors.New("unsupported_staging_reason")
	ErrNotDraft              = errors.New("staging_invoice_not_draft")
	ErrInvalidTransition     = errors.New("invalid_staging_transition")
	ErrSourceInvoiceNotFound = errors.New("source_invoice_not_found")
	ErrRefundExceedsSource   = errors.New("refund_exceeds_source")
	ErrInvalidRefundAmount   = errors.New("invalid_refund_amount")
	ErrUnbalancedInvoice     = errors.New("unbalanced_invoice")
	ErrInvoiceNotSynced      = errors.New("invoice_not_synced")
	ErrUnknownMetadataReason = errors.New("unknown_metadata_reason")
	ErrInvalidMetadata       = errors.New("invalid_metadata")
	ErrInvalidPageToken      = errors.New("invalid_page_token")
)

// MissingAccountingCodeError names the configuration that lacks a code.
type MissingAccountingCodeError struct {
	Kind string
	ID   string
	Name string
}

func (e *MissingAccountingCodeError) Error() string {
	return fmt.Sprintf("missing accounting code on %s %q (%s)", e.Kind, e.Name, e.ID)
}
