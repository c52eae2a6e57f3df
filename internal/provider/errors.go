package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/hivemind/pkg/models"
)

// Error is a classified provider failure. The engine dispatches on Kind:
// overflow splits the batch, transient kinds retry with backoff, and
// Unauthorized aborts the run.
type Error struct {
	Kind models.ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider error: %s", e.Kind)
	}
	return fmt.Sprintf("provider error (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind from an invocation error. Unclassified
// errors count as transport failures.
func KindOf(err error) models.ErrorKind {
	if err == nil {
		return models.ErrorKindNone
	}

	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return models.ErrorKindTransport
}

// Transient returns true for kinds the engine retries with backoff.
func Transient(kind models.ErrorKind) bool {
	switch kind {
	case models.ErrorKindRateLimited, models.ErrorKindTimeout, models.ErrorKindTransport:
		return true
	default:
		return false
	}
}

// classify maps an Anthropic SDK error onto the error taxonomy.
func classify(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: models.ErrorKindTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: models.ErrorKindCancelled, Err: err}
	}

	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 400, 413:
			// The API reports prompts over the context window as an
			// invalid_request_error mentioning the prompt length.
			msg := strings.ToLower(apierr.Error())
			if strings.Contains(msg, "too long") || strings.Contains(msg, "context") ||
				strings.Contains(msg, "maximum") || apierr.StatusCode == 413 {
				return &Error{Kind: models.ErrorKindContextOverflow, Err: err}
			}
			return &Error{Kind: models.ErrorKindTransport, Err: err}
		case 401, 403:
			return &Error{Kind: models.ErrorKindUnauthorized, Err: err}
		case 408:
			return &Error{Kind: models.ErrorKindTimeout, Err: err}
		case 429:
			return &Error{Kind: models.ErrorKindRateLimited, Err: err}
		case 529:
			// Anthropic's overloaded response, treated as a throttle.
			return &Error{Kind: models.ErrorKindRateLimited, Err: err}
		default:
			return &Error{Kind: models.ErrorKindTransport, Err: err}
		}
	}

	return &Error{Kind: models.ErrorKindTransport, Err: err}
}
