// Package listener runs the TCP accept loop: one mutually-authenticated TLS
// connection in, one bounded worker-pool job out, until a shutdown signal or
// context cancellation drains it. It mirrors the accept/dispatch shape of a
// classic thread-per-connection server, but swaps the OS thread for a pool
// slot acquired through pkg/common/workers.
package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/net/netutil"

	"github.com/entropycollective/vaultd/pkg/common/logging"
	"github.com/entropycollective/vaultd/pkg/common/workers"
)

// SessionHandler runs one accepted, not-yet-handshaken TLS connection to
// completion. It owns the connection and must close it before returning.
type SessionHandler func(ctx context.Context, conn *tls.Conn)

// Listener owns the bound socket and the worker pool that serves it.
type Listener struct {
	addr      string
	tlsConfig *tls.Config
	pool      *workers.Pool
	handle    SessionHandler
	log       *logging.Logger

	mu  sync.Mutex
	ln  net.Listener
	wg  sync.WaitGroup
}

// New builds a Listener bound to addr with the given TLS server configuration
// (ClientAuth must already be set to require and verify a client cert) and
// dispatch pool. It does not bind the socket until Serve is called.
func New(addr string, tlsConfig *tls.Config, pool *workers.Pool, handle SessionHandler, log *logging.Logger) *Listener {
	return &Listener{
		addr:      addr,
		tlsConfig: tlsConfig,
		pool:      pool,
		handle:    handle,
		log:       log.WithComponent("listener"),
	}
}

// Serve binds the listening socket and accepts connections until ctx is
// canceled, at which point it closes the socket, waits for in-flight
// sessions to drain, and returns. A per-connection pool-submit failure
// (context canceled while waiting for a slot) closes that connection without serving
// it; it never stops the accept loop itself.
func (l *Listener) Serve(ctx context.Context) error {
	cfg := net.ListenConfig{
		Control: setReuseAddr,
	}
	ln, err := cfg.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", l.addr, err)
	}

	// Bound raw accepted-but-not-yet-handshaken connections independently of
	// the worker pool: the pool caps concurrently *served* sessions, this
	// caps how many can be sitting in accept/handshake at once.
	limited := netutil.LimitListener(ln, 4*l.pool.Capacity())
	tlsLn := tls.NewListener(limited, l.tlsConfig)

	l.mu.Lock()
	l.ln = tlsLn
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		_ = l.ln.Close()
		l.mu.Unlock()
	}()

	l.log.Info("listening", map[string]interface{}{"addr": l.addr})

	for {
		conn, err := tlsLn.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			l.log.Warn("accept failed", map[string]interface{}{"error": err.Error()})
			continue
		}

		tlsConn, ok := conn.(*tls.Conn)
		if !ok {
			_ = conn.Close()
			continue
		}

		l.wg.Add(1)
		submitErr := l.pool.Submit(ctx, func() {
			defer l.wg.Done()
			l.handle(ctx, tlsConn)
		})
		if submitErr != nil {
			l.wg.Done()
			_ = tlsConn.Close()
		}
	}

	l.wg.Wait()
	return nil
}

// Addr returns the bound address, valid only once Serve has started
// listening. Used by tests that bind to ":0" and need the chosen port.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}
