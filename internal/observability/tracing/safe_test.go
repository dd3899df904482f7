package tracing

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/admin/sync/run"),
		attribute.String("contact_email", "member@example.com"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorTruncates(t *testing.T) {
	long := errors.New(strings.Repeat("x", 400))
	assert.Len(t, SafeError(long).Error(), 256)
	assert.Nil(t, SafeError(nil))
}

func TestClampRatio(t *testing.T) {
	assert.Equal(t, 0.0, clampRatio(-1))
	assert.Equal(t, 1.0, clampRatio(4))
	assert.Equal(t, 0.25, clampRatio(0.25))
}
