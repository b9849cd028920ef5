package runtime

import (
	"context"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// MaxRequestIDLen bounds caller-supplied request ids accepted from HTTP headers or gRPC metadata.
const MaxRequestIDLen = 128

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

func NewRequestID() string {
	return uuid.NewString()
}

// AcceptRequestID returns the caller's id when it is usable, otherwise a fresh one.
// Ids containing control characters are replaced so they cannot forge log lines.
func AcceptRequestID(id string) string {
	if id == "" || len(id) > MaxRequestIDLen {
		return NewRequestID()
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c < 0x20 || c == 0x7f {
			return NewRequestID()
		}
	}
	return id
}
