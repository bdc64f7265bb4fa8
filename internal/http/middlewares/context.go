package middlewares

import "context"

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyPrincipal
)

func setRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, rid)
}

// GetRequestID returns the request id injected by WithRequestID, or "".
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}

func setPrincipal(ctx context.Context, svc string) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, svc)
}

// GetPrincipal returns the authenticated service identity, or "".
func GetPrincipal(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyPrincipal).(string)
	return v
}
