package pluginbus

import "context"

// HandlerToken marks the dynamic extent of a plugin event handler
// invocation. Go has no per-goroutine analog of Python's
// contextvars.ContextVar that survives goroutine handoffs safely, so the
// scope is carried explicitly through context.Context rather than as
// thread-local state (spec §9).
type HandlerToken struct {
	handlerName string
}

type handlerScopeKey struct{}

// EnterHandler returns a token for the handler named name and a Context
// carrying it, to be passed down through any bus calls made while that
// handler runs.
func (ctx *PluginContext) EnterHandler(parent context.Context, name string) (context.Context, *HandlerToken) {
	token := &HandlerToken{handlerName: name}
	return WithHandlerScope(parent, token), token
}

// WithHandlerScope attaches a handler token to ctx.
func WithHandlerScope(ctx context.Context, token *HandlerToken) context.Context {
	return context.WithValue(ctx, handlerScopeKey{}, token)
}

// InHandlerScope reports whether ctx was produced inside a handler's
// dynamic extent, and the token if so.
func InHandlerScope(ctx context.Context) (*HandlerToken, bool) {
	token, ok := ctx.Value(handlerScopeKey{}).(*HandlerToken)
	return token, ok
}
