package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNilObservabilityIsSafe(t *testing.T) {
	var o *Observability
	ctx := context.Background()

	spanCtx, span := o.StartSpan(ctx, "tick")
	assert.Equal(t, ctx, spanCtx)
	span.End()

	o.RecordTick(ctx, "email-delivery", 0)
	o.RecordDelivery(ctx, "email", "sent", 20*time.Millisecond)
	o.Shutdown()
}
