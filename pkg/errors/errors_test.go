package errors

import (
	stdErrors "errors"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
	}{
		{CodeValidation, http.StatusBadRequest, false},
		{CodeInvalidPrice, http.StatusBadRequest, false},
		{CodeSamePlan, http.StatusUnprocessableEntity, false},
		{CodeSubscriptionCanceling, http.StatusUnprocessableEntity, false},
		{CodeProcessorUnavailable, http.StatusServiceUnavailable, true},
		{CodeDependency, http.StatusServiceUnavailable, true},
		{CodeInternal, http.StatusInternalServerError, true},
	}
	for _, tc := range tests {
		meta := MetadataFor(tc.code)
		if meta.HTTPStatus != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.code, tc.status, meta.HTTPStatus)
		}
		if meta.Retryable != tc.retryable {
			t.Fatalf("%s: expected retryable=%t", tc.code, tc.retryable)
		}
	}
}

func TestMetadataForUnknownCodeFallsBackToInternal(t *testing.T) {
	meta := MetadataFor(Code("NOPE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal fallback, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("boom")
	err := Wrap(CodeDependency, cause, "call processor")
	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to survive errors.Is")
	}
	typed := As(err)
	if typed == nil || typed.Code() != CodeDependency {
		t.Fatalf("expected typed error with dependency code")
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(New(CodeSamePlan, "same plan")) {
		t.Fatalf("same-plan should not be retryable")
	}
	if !IsRetryable(New(CodeProcessorUnavailable, "timeout")) {
		t.Fatalf("processor-unavailable should be retryable")
	}
	if !IsRetryable(stdErrors.New("untyped")) {
		t.Fatalf("untyped errors should default to retryable")
	}
}
