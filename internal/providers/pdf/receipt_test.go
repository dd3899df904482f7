package pdf

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderReceipt(t *testing.T) {
	doc, err := NewRenderer().RenderReceipt(ReceiptData{
		OrgName:   "Northside FC",
		Reference: "REG-1",
		PaidOn:    "1 Mar 2026",
		Currency:  "aud",
		Lines:     []ReceiptLine{{Description: "U12 registration", Amount: "80.00"}},
		Total:     "80.00",
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))
}

func TestRenderReceiptRequiresLines(t *testing.T) {
	_, err := NewRenderer().RenderReceipt(ReceiptData{Reference: "REG-1"})
	assert.ErrorIs(t, err, ErrEmptyReceipt)
}
