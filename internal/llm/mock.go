package llm

import "context"

// CompleterFunc adapts a function to the Completer interface. Used by tests
// and by callers that wrap a Completer with extra behavior.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
