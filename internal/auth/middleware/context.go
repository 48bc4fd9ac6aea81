package auth

import "context"

type ctxKey string

const ctxKeyUserID ctxKey = "user_id"

func WithUserID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, id)
}

// UserIDFromContext returns the authenticated user id placed by one of the
// auth layers. ok is false only when no layer ran, which means the route was
// mounted unprotected.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	if v := ctx.Value(ctxKeyUserID); v != nil {
		if id, ok := v.(int64); ok {
			return id, true
		}
	}
	return 0, false
}
