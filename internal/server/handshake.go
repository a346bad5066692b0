package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Hello is exchanged in both directions before any frame flows.
const Hello = "CRSFLINKv1"

var errBadHello = errors.New("bad hello")

// Handshake writes Hello and expects the peer's Hello back within timeout.
// Clients use it too.
func Handshake(ctx context.Context, c net.Conn, timeout time.Duration) error {
	if err := c.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	defer c.SetDeadline(time.Time{})

	errCh := make(chan error, 2)
	go func() {
		_, err := io.WriteString(c, Hello)
		errCh <- err
	}()
	go func() {
		buf := make([]byte, len(Hello))
		_, err := io.ReadFull(c, buf)
		if err == nil && string(buf) != Hello {
			err = fmt.Errorf("%w: %q", errBadHello, buf)
		}
		errCh <- err
	}()
	for i := 0; i < 2; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// handshake runs the hello exchange for an accepted connection.
func (s *Server) handshake(ctx context.Context, c net.Conn) error {
	return Handshake(ctx, c, s.handshakeTimeout)
}
