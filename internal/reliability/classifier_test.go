package reliability

import (
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestIsRetryableDialError(t *testing.T) {
	if IsRetryableDialError(nil) {
		t.Fatalf("IsRetryableDialError(nil) = true, want false")
	}
	if IsRetryableDialError(websocket.ErrBadHandshake) {
		t.Fatalf("bad handshake should not be retried")
	}
	if !IsRetryableDialError(errors.New("dial tcp: connection refused")) {
		t.Fatalf("connection refused should be retried")
	}
}

func TestIsExpectedCloseCode(t *testing.T) {
	normal := &websocket.CloseError{Code: websocket.CloseNormalClosure}
	if !IsExpectedCloseCode(normal) {
		t.Fatalf("normal closure should be expected")
	}
	abnormal := &websocket.CloseError{Code: websocket.CloseInternalServerErr}
	if IsExpectedCloseCode(abnormal) {
		t.Fatalf("internal server error close should not be expected")
	}
	if IsExpectedCloseCode(errors.New("read: reset")) {
		t.Fatalf("non-close error should not be expected")
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}
