package llm

import (
	"errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// IsQuotaError reports whether err is a provider's rate or quota rejection.
// Classification uses the typed errors of each SDK and gRPC status codes.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}

	var geminiErr genai.APIError
	if errors.As(err, &geminiErr) {
		return geminiErr.Code == http.StatusTooManyRequests || geminiErr.Status == "RESOURCE_EXHAUSTED"
	}

	var openaiErr *openai.APIError
	if errors.As(err, &openaiErr) {
		return openaiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var openaiReqErr *openai.RequestError
	if errors.As(err, &openaiReqErr) {
		return openaiReqErr.HTTPStatusCode == http.StatusTooManyRequests
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode == http.StatusTooManyRequests
	}

	if s, ok := status.FromError(err); ok {
		return s.Code() == codes.ResourceExhausted
	}
	return false
}
