package atome

import "context"

type originKey struct{}

// WithOrigin tags ctx with the connection id that triggered a mutation so
// the broadcast can skip echoing back to it.
func WithOrigin(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, originKey{}, connID)
}

// OriginFrom returns the originating connection id, or "".
func OriginFrom(ctx context.Context) string {
	if connID, ok := ctx.Value(originKey{}).(string); ok {
		return connID
	}
	return ""
}
