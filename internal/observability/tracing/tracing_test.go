package tracing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsPersonalData(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("org_id", "1"),
		attribute.String("billing_email", "ops@example.com"),
		attribute.String("Signature", "t=1,v1=abc"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("org_id"), attrs[0].Key)
}

func TestSafeErrorKeepsOutermostMessage(t *testing.T) {
	err := fmt.Errorf("%w: %w", errors.New("payment_setup_failed"), errors.New("card_declined for ops@example.com"))
	assert.EqualError(t, SafeError(err), "payment_setup_failed")
	assert.Nil(t, SafeError(nil))
}
