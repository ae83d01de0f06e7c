package protocol

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Probe checks that the automation service is accepting TCP connections
// before any RPC is attempted. It tries the IPv6 loopback first, then IPv4,
// each within the given timeout, so a down service fails fast instead of
// hanging the SSE connect.
func Probe(ctx context.Context, port int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}

	var lastErr error
	for _, host := range []string{"::1", "127.0.0.1"} {
		addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("probe port %d: %w", port, lastErr)
}
