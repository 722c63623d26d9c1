package logctx

import (
	"context"
	"log/slog"
)

type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("user_agent", rd.UserAgent),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("path", rd.Path),
		))
	}

	if sd, ok := ctx.Value(schemeDataKey{}).(*SchemeData); ok {
		r.AddAttrs(slog.Group("scheme",
			slog.String("name", sd.Name),
			slog.String("operation", sd.Operation),
		))
	}

	if pd, ok := ctx.Value(principalDataKey{}).(*PrincipalData); ok {
		r.AddAttrs(slog.Group("principal",
			slog.String("subject", pd.Subject),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type requestDataKey struct{}

type RequestData struct {
	RequestID  string
	Method     string
	UserAgent  string
	RemoteAddr string
	Path       string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type schemeDataKey struct{}

// SchemeData records which authentication scheme is handling the request and
// which operation (authenticate, challenge, forbid, ...) resolved to it.
type SchemeData struct {
	Name      string
	Operation string
}

func WithSchemeData(ctx context.Context, data *SchemeData) context.Context {
	return context.WithValue(ctx, schemeDataKey{}, data)
}

type principalDataKey struct{}

type PrincipalData struct {
	Subject string
}

func WithPrincipalData(ctx context.Context, data *PrincipalData) context.Context {
	return context.WithValue(ctx, principalDataKey{}, data)
}
