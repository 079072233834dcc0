package auth

import "context"

type ctxKey string

const (
	ctxKeySub        ctxKey = "sub"
	ctxKeyQueryToken ctxKey = "query-token"
)

func WithSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, ctxKeySub, sub)
}

func SubjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(ctxKeySub).(string)
	return s
}

func withQueryToken(ctx context.Context, tok string) context.Context {
	return context.WithValue(ctx, ctxKeyQueryToken, tok)
}

func queryTokenFromContext(ctx context.Context) string {
	s, _ := ctx.Value(ctxKeyQueryToken).(string)
	return s
}
