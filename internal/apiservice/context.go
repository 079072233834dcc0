package apiservice

import "context"

type ctxKey string

const ctxKeyToken ctxKey = "bearer"

// WithToken attaches the caller's bearer token; the client forwards it upstream.
func WithToken(ctx context.Context, tok string) context.Context {
	return context.WithValue(ctx, ctxKeyToken, tok)
}

func TokenFromContext(ctx context.Context) string {
	if v := ctx.Value(ctxKeyToken); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
