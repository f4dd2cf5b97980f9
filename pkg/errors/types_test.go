package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeServiceStart, "not starting?")

	if err == nil {
		t.Fatal("New should return non-nil error")
	}

	if err.Code != ErrCodeServiceStart {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeServiceStart)
	}

	if err.Message != "not starting?" {
		t.Errorf("Message = %v, want 'not starting?'", err.Message)
	}

	if err.Underlying != nil {
		t.Error("Underlying should be nil for New error")
	}

	if len(err.Stack) == 0 {
		t.Error("Stack should be captured")
	}

	if err.Retryable {
		t.Error("Retryable should default to false")
	}
}

func TestWrap(t *testing.T) {
	underlying := errors.New("connection refused")
	err := Wrap(underlying, ErrCodeSession, "open http session")

	if err.Underlying != underlying {
		t.Error("Underlying should be preserved")
	}

	if !strings.Contains(err.Error(), "connection refused") {
		t.Error("Error string should include underlying error")
	}

	if !strings.Contains(err.Error(), "SESSION") {
		t.Error("Error string should include error code")
	}
}

func TestWrap_Nil(t *testing.T) {
	if err := Wrap(nil, ErrCodeInternal, "test"); err != nil {
		t.Error("Wrap of nil should return nil")
	}
	if err := ProcessSpawn(nil, "geckodriver"); err != nil {
		t.Error("ProcessSpawn of nil should return nil")
	}
	if err := Session(nil); err != nil {
		t.Error("Session of nil should return nil")
	}
	if err := Request(nil, "GET", "http://localhost"); err != nil {
		t.Error("Request of nil should return nil")
	}
}

func TestTaxonomyConstructors(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name      string
		err       *Error
		code      ErrorCode
		retryable bool
	}{
		{"process spawn", ProcessSpawn(cause, "chromedriver"), ErrCodeProcessSpawn, false},
		{"session", Session(cause), ErrCodeSession, false},
		{"request", Request(cause, "GET", "http://localhost:4444/status"), ErrCodeRequest, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %v, want %v", tt.err.Code, tt.code)
			}
			if tt.err.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", tt.err.Retryable, tt.retryable)
			}
			if !errors.Is(tt.err, cause) {
				t.Error("errors.Is should reach the cause")
			}
		})
	}
}

func TestError_ContextIsSorted(t *testing.T) {
	err := New(ErrCodeRequest, "request failed").
		WithContext("url", "http://x").
		WithContext("method", "GET")

	got := err.Error()
	want := "[REQUEST] request failed {method: GET, url: http://x}"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestIsCode(t *testing.T) {
	err := New(ErrCodeSession, "session error")

	if !IsCode(err, ErrCodeSession) {
		t.Error("IsCode should return true for matching code")
	}

	if IsCode(err, ErrCodeServiceStart) {
		t.Error("IsCode should return false for non-matching code")
	}

	if IsCode(nil, ErrCodeSession) {
		t.Error("IsCode should return false for nil error")
	}

	if IsCode(errors.New("standard error"), ErrCodeInternal) {
		t.Error("IsCode should return false for plain errors")
	}
}

func TestIsCode_Wrapped(t *testing.T) {
	inner := Request(errors.New("refused"), "GET", "http://localhost/status")
	outer := Wrap(inner, ErrCodeServiceStart, "not starting?")
	wrapped := fmt.Errorf("start geckodriver: %w", outer)

	if !IsCode(wrapped, ErrCodeServiceStart) {
		t.Error("IsCode should see through fmt wrapping")
	}
	if !IsCode(wrapped, ErrCodeRequest) {
		t.Error("IsCode should find codes deeper in the chain")
	}
	if GetCode(wrapped) != ErrCodeServiceStart {
		t.Errorf("GetCode = %v, want outermost code", GetCode(wrapped))
	}
}

func TestGetCode(t *testing.T) {
	if GetCode(New(ErrCodeProcessSpawn, "x")) != ErrCodeProcessSpawn {
		t.Error("GetCode should return the error's code")
	}

	if GetCode(nil) != "" {
		t.Error("GetCode should return empty string for nil")
	}

	if GetCode(errors.New("standard")) != ErrCodeInternal {
		t.Error("GetCode should return ErrCodeInternal for plain errors")
	}
}

func TestErrClosed_Is(t *testing.T) {
	err := fmt.Errorf("close driver: %w", New(ErrCodeClosed, "session closed"))
	if !errors.Is(err, ErrClosed) {
		t.Error("errors.Is should match ErrClosed by code")
	}
	if errors.Is(New(ErrCodeSession, "x"), ErrClosed) {
		t.Error("errors.Is should not match a different code")
	}
}

func TestIsRetryable_Function(t *testing.T) {
	if !IsRetryable(Request(errors.New("refused"), "GET", "u")) {
		t.Error("IsRetryable should return true for request errors")
	}

	if IsRetryable(New(ErrCodeConfigInvalid, "bad config")) {
		t.Error("IsRetryable should return false for non-retryable error")
	}

	if IsRetryable(nil) {
		t.Error("IsRetryable should return false for nil")
	}
}

func TestStackTrace(t *testing.T) {
	err := New(ErrCodeInternal, "test error")

	trace := err.StackTrace()

	if !strings.Contains(trace, "Stack trace:") {
		t.Error("StackTrace should contain header")
	}

	if len(err.Stack) == 0 {
		t.Error("Stack should have frames")
	}
}

func TestCaptureStack(t *testing.T) {
	frames := captureStack(0)

	found := false
	for _, frame := range frames {
		if strings.Contains(frame.Function, "TestCaptureStack") {
			found = true
			break
		}
	}

	if !found {
		t.Error("Stack should contain the calling test frame")
	}
}
