package reliability

import (
	"time"

	"github.com/gorilla/websocket"
)

// IsRetryableDialError classifies websocket handshake failures worth another
// connect attempt.
func IsRetryableDialError(err error) bool {
	if err == nil {
		return false
	}
	// A refused or timed-out handshake is transient; a bad-handshake response
	// from the peer usually is not.
	return err != websocket.ErrBadHandshake
}

// IsExpectedCloseCode reports whether a websocket close code signals a normal
// end of stream rather than a fault.
func IsExpectedCloseCode(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
