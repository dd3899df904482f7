package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTenantNotFound    = errors.New("accounting_tenant_not_found")
	ErrNoDefaultTenant   = errors.New("accounting_default_tenant_not_configured")
	ErrEmptyDocument     = errors.New("accounting_document_has_no_lines")
	ErrNotConfigured     = errors.New("accounting_not_configured")
	ErrUnexpectedPayload = errors.New("accounting_unexpected_response")
)

// RemoteError wraps any failure talking to the accounting system together
// with the validation messages it returned.
type RemoteError struct {
	Op         string
	StatusCode int
	Messages   []string
	Err        error
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if len(e.Messages) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Messages, "; "))
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *RemoteError) Unwrap() error { return e.Err }

func (e *RemoteError) Remote() bool { return true }
