package rag

import (
	"context"
	"fmt"
	"net"
	"time"
)

// HealthProbe checks reachability of the configured retrieval backend.
type HealthProbe interface {
	Probe(ctx context.Context, host string, port int) error
}

// TCPHealthProbe dials the backend's host:port with a bounded timeout (spec
// §4.2: "via a TCP probe with a 2s timeout").
type TCPHealthProbe struct {
	Timeout time.Duration
}

func (p TCPHealthProbe) Probe(ctx context.Context, host string, port int) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}
