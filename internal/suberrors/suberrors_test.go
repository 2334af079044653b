package suberrors

import (
	"errors"
	"testing"
)

func TestIsAndRetryable(t *testing.T) {
	err := RPCTimeout("5Peer")
	if !Is(err, CodeRPCTimeout) {
		t.Fatalf("expected CodeRPCTimeout")
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if Is(err, CodeHashMismatch) {
		t.Fatalf("unexpected code match")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := InsufficientSpace("abcxyz", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find wrapped cause")
	}
	if IsRetryable(err) {
		t.Fatalf("InsufficientSpace should not be retryable")
	}
}

func TestWrappedErrorAsTarget(t *testing.T) {
	err := StoreCorrupt("/tmp/db", nil)
	var target *Error
	if !errors.As(err, &target) {
		t.Fatalf("expected errors.As to match *Error")
	}
	if target.Code != CodeStoreCorrupt {
		t.Fatalf("got code %s", target.Code)
	}
}
