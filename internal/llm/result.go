// Package llm abstracts over ranked model backends and degrades across them
// when a backend reports quota exhaustion.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Outcome classifies a single backend call.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeQuotaExceeded
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeQuotaExceeded:
		return "quota_exceeded"
	case OutcomeFailure:
		return "failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is what a backend returns: text on success, otherwise the cause.
type Result struct {
	Outcome Outcome
	Text    string
	Err     error
}

// Success wraps generated text.
func Success(text string) Result {
	return Result{Outcome: OutcomeSuccess, Text: text}
}

// QuotaExceeded reports a rate or quota rejection from the provider.
func QuotaExceeded(err error) Result {
	return Result{Outcome: OutcomeQuotaExceeded, Err: err}
}

// Failure reports any other error. It is never retried on another backend.
func Failure(err error) Result {
	return Result{Outcome: OutcomeFailure, Err: err}
}

// Backend is one named model that turns a prompt into text.
type Backend interface {
	Name() string
	Generate(ctx context.Context, prompt string) Result
}

// Generator is what the rest of the application depends on.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

var (
	// ErrAllBackendsExhausted means every backend in the priority list hit its quota.
	ErrAllBackendsExhausted = errors.New("all model backends exhausted their quota")
	// ErrRetriesExhausted means the attempt budget ran out before the list did.
	ErrRetriesExhausted = errors.New("model fallback retries exhausted")
	// ErrEmptyResponse is returned by adapters when a provider answers with no text.
	ErrEmptyResponse = errors.New("model returned empty text")
	// ErrNoBackend is returned when no provider is configured.
	ErrNoBackend = errors.New("no model backend configured")
)

// Classify converts a provider call into a Result.
func Classify(text string, err error) Result {
	switch {
	case err == nil && text == "":
		return Failure(ErrEmptyResponse)
	case err == nil:
		return Success(text)
	case IsQuotaError(err):
		return QuotaExceeded(err)
	default:
		return Failure(err)
	}
}
