package correlation

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Header is the inbound/outbound HTTP header carrying the correlation id.
const Header = "X-Correlation-Id"

type ctxKey struct{}

func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromCtx(ctx context.Context) string {
	if s, ok := ctx.Value(ctxKey{}).(string); ok {
		return s
	}
	return ""
}

// Ensure returns the provided id trimmed, or a fresh UUID when blank.
// Called once at ingress; every downstream hop propagates the result.
func Ensure(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return uuid.NewString()
	}
	return id
}
