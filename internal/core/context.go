package core

import "context"

type contextKey string

const ctxKeyClient contextKey = "client"

// Client identifies who started a cleaning run. It is stored with the run
// history.
type Client struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// ContextWithClient attaches the caller's address and user agent to ctx.
func ContextWithClient(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, ctxKeyClient, Client{IP: ip, UserAgent: userAgent})
}

// ClientFromContext returns the client stored by ContextWithClient, or the
// zero Client.
func ClientFromContext(ctx context.Context) Client {
	if c, ok := ctx.Value(ctxKeyClient).(Client); ok {
		return c
	}
	return Client{}
}
