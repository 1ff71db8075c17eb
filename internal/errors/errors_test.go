package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCodeThroughChain(t *testing.T) {
	cause := stdErrors.New("disk gone")
	err := fmt.Errorf("outer: %w", Wrap(CodeStorageFailure, cause, "写入失败"))

	if got := CodeOf(err); got != CodeStorageFailure {
		t.Fatalf("expected %s, got %s", CodeStorageFailure, got)
	}
	if !HasCode(err, CodeStorageFailure) {
		t.Fatalf("expected HasCode to match")
	}
	if HasCode(err, CodeNotFound) {
		t.Fatalf("unexpected NOT_FOUND match")
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if !RetryableError(err) {
		t.Fatalf("storage failures should be retryable")
	}
}

func TestRegisterOverridesAttributes(t *testing.T) {
	const code Code = "TEST_CUSTOM"
	Register(code, Attributes{Message: "custom", Severity: SeverityCritical, Retryable: true, Alert: true})

	err := New(code, "", WithMetadata("user", "u1"))
	if err.Error() != "[TEST_CUSTOM] custom" {
		t.Fatalf("expected default message, got %q", err.Error())
	}
	if !RetryableError(err) || !ShouldAlert(err) {
		t.Fatalf("registered attributes should apply")
	}
	if md := err.Metadata(); md["user"] != "u1" {
		t.Fatalf("unexpected metadata: %v", md)
	}
	if ShouldAlert(New(CodeNotFound, "x")) {
		t.Fatalf("not found should not alert")
	}
}

func TestUnknownCodeFallsBack(t *testing.T) {
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors should map to UNKNOWN")
	}
	if AttributesOf("NOPE").Severity != SeverityCritical {
		t.Fatalf("unregistered code should use UNKNOWN attributes")
	}
}
