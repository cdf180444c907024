// Package provider implements completion providers: the external services
// that map an ordered message list to a generated reply.
//
// Providers never retry. Timeouts belong to the provider's own client
// configuration and to the caller's context.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/gene-chat/internal/prompt"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Provider produces a single reply for a completion request.
type Provider interface {
	Complete(ctx context.Context, req prompt.CompletionRequest) (string, error)
}

// Func adapts a function to Provider.
type Func func(ctx context.Context, req prompt.CompletionRequest) (string, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, req prompt.CompletionRequest) (string, error) {
	return f(ctx, req)
}

// ErrMissingCredential is wrapped when a provider is built without its API key.
var ErrMissingCredential = errors.New("missing provider credential")

// Error is a failed provider call. Message is safe to show to users; Err is
// the unmodified cause.
type Error struct {
	Provider string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap turns err into an *Error with a human-readable message. Errors that
// are already *Error pass through unchanged.
func Wrap(name string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Provider: name, Message: describe(err), Err: err}
}

func describe(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return "completion provider credential is not configured"
	case errors.Is(err, context.DeadlineExceeded):
		return "completion provider timed out"
	case errors.Is(err, context.Canceled):
		return "completion request was canceled"
	}
	if code, ok := statusCode(err); ok {
		switch {
		case code == 401 || code == 403:
			return "completion provider rejected the credential"
		case code == 429:
			return "completion provider quota exceeded"
		case code >= 500:
			return "completion provider is unavailable"
		}
	}
	return "completion provider request failed"
}

// statusCode extracts an HTTP-like status from OpenAI and gRPC errors.
func statusCode(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, true
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unauthenticated, codes.PermissionDenied:
			return 401, true
		case codes.ResourceExhausted:
			return 429, true
		case codes.Unavailable, codes.Internal:
			return 503, true
		}
	}
	return 0, false
}
