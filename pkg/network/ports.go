// Package network allocates the loopback TCP ports backend instances bind
// to, grounded on the teacher's bind-and-release availability check.
package network

import (
	"fmt"
	"net"
)

// ChoosePort binds an ephemeral loopback port, immediately releases it, and
// returns the port number. This is race-tolerant, not race-free: the caller
// must retry spawn on a bind failure rather than treat the returned port as
// reserved.
func ChoosePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("choosing free port: %w", err)
	}
	defer l.Close()

	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address type %T", l.Addr())
	}
	return addr.Port, nil
}

// IsAvailable reports whether port can currently be bound on loopback.
func IsAvailable(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// ChooseAvailablePort retries ChoosePort up to attempts times, skipping any
// port that a concurrent bind has already claimed between our close and the
// caller's own bind attempt.
func ChooseAvailablePort(attempts int) (int, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		port, err := ChoosePort()
		if err != nil {
			lastErr = err
			continue
		}
		if IsAvailable(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free port found after %d attempts: %w", attempts, lastErr)
}
