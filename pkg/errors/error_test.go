package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	appErr "gavel/pkg/errors"
)

func TestWrapPreservesCause(t *testing.T) {
	t.Parallel()
	cause := stderrors.New("connection refused")
	err := appErr.Wrapf(cause, appErr.BrokerError, "dial broker failed")

	if !stderrors.Is(err, cause) {
		t.Fatalf("wrapped error must keep its cause")
	}
	if appErr.GetCode(err) != appErr.BrokerError {
		t.Fatalf("unexpected code: %d", appErr.GetCode(err))
	}
	if err.Error() != "dial broker failed" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestGetCodeOnForeignError(t *testing.T) {
	t.Parallel()
	if code := appErr.GetCode(fmt.Errorf("plain failure")); code != appErr.InternalServerError {
		t.Fatalf("foreign errors must map to InternalServerError, got %d", code)
	}
	if code := appErr.GetCode(nil); code != appErr.Success {
		t.Fatalf("nil must map to Success, got %d", code)
	}
}

func TestIsMatchesCode(t *testing.T) {
	t.Parallel()
	err := appErr.New(appErr.SubmissionNotFound)
	if !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("Is must match the carried code")
	}
	if appErr.Is(err, appErr.ProblemNotFound) {
		t.Fatalf("Is must not match another code")
	}
	if appErr.Is(fmt.Errorf("plain"), appErr.SubmissionNotFound) {
		t.Fatalf("Is must not match foreign errors")
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()
	transient := []appErr.ErrorCode{
		appErr.DatabaseError, appErr.CacheError, appErr.StorageError,
		appErr.BrokerError, appErr.PublishNotAcked, appErr.Timeout,
		appErr.EngineUnavailable,
	}
	for _, code := range transient {
		if !appErr.IsTransient(appErr.New(code)) {
			t.Fatalf("code %d must be transient", code)
		}
	}
	permanent := []appErr.ErrorCode{
		appErr.SubmissionNotFound, appErr.MalformedMessage,
		appErr.StatusConflict, appErr.ValidationFailed,
	}
	for _, code := range permanent {
		if appErr.IsTransient(appErr.New(code)) {
			t.Fatalf("code %d must be permanent", code)
		}
	}
	// An error of unknown provenance is retried, not dropped.
	if !appErr.IsTransient(fmt.Errorf("disk on fire")) {
		t.Fatalf("foreign errors must default to transient")
	}
	if appErr.IsTransient(nil) {
		t.Fatalf("nil is not an error")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		code   appErr.ErrorCode
		status int
	}{
		{appErr.Success, http.StatusOK},
		{appErr.ValidationFailed, http.StatusBadRequest},
		{appErr.CodeTooLarge, http.StatusBadRequest},
		{appErr.SubmissionNotFound, http.StatusNotFound},
		{appErr.StatusConflict, http.StatusConflict},
		{appErr.PublishNotAcked, http.StatusServiceUnavailable},
		{appErr.DatabaseError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := tc.code.HTTPStatus(); got != tc.status {
			t.Fatalf("code %d: expected %d, got %d", tc.code, tc.status, got)
		}
	}
}

func TestValidationErrorCarriesDetails(t *testing.T) {
	t.Parallel()
	err := appErr.ValidationError("code", "must not be empty")
	if !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("unexpected code: %v", err)
	}
	if err.Details["field"] != "code" || err.Details["reason"] != "must not be empty" {
		t.Fatalf("details must carry field and reason: %v", err.Details)
	}
}
