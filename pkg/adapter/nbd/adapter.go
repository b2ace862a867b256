// Package nbd implements the NBD server: a TCP listener plus a
// per-connection state machine that negotiates an export and services
// block requests against the storage layer.
package nbd

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/usebox/swiftnbd/internal/logger"
	"github.com/usebox/swiftnbd/pkg/metrics"
	"github.com/usebox/swiftnbd/pkg/stats"
	"github.com/usebox/swiftnbd/pkg/store"
)

// Config holds the NBD server configuration.
type Config struct {
	// BindAddress is the IP address to bind to.
	BindAddress string

	// Port is the TCP port to listen on.
	Port int

	// MaxConnections limits concurrent client connections. 0 means
	// unlimited.
	MaxConnections int

	// ShutdownTimeout is the maximum time to wait for active connections
	// during graceful shutdown before force-closing them.
	ShutdownTimeout time.Duration
}

// Export binds a storage to the NBD-layer traffic counters for one export
// name.
type Export struct {
	Storage  *store.Storage
	Counters *stats.Counters
}

// Adapter is the NBD protocol server.
//
// The export set is built at startup and never mutated; each export is
// served to at most one connection at a time. Within this process a
// connection is refused while the export's storage holds the container
// lock; other processes are refused by the remote container lock itself.
type Adapter struct {
	config  Config
	exports map[string]*Export
	metrics *metrics.NBDMetrics

	listener   net.Listener
	listenerMu sync.Mutex

	activeConns  sync.WaitGroup
	conns        sync.Map // remote addr -> net.Conn, for forced closure
	connCount    atomic.Int32
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New creates an adapter serving the given exports. m may be nil.
func New(config Config, exports map[string]*Export, m *metrics.NBDMetrics) *Adapter {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	return &Adapter{
		config:   config,
		exports:  exports,
		metrics:  m,
		shutdown: make(chan struct{}),
	}
}

// Addr returns the listener address once Serve has started.
func (a *Adapter) Addr() net.Addr {
	a.listenerMu.Lock()
	defer a.listenerMu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Serve accepts connections until ctx is cancelled, then shuts down
// gracefully: the listener closes first, active connections get
// ShutdownTimeout to finish their current request and unlock their
// containers, and whatever remains is force-closed.
func (a *Adapter) Serve(ctx context.Context) error {
	listenAddr := fmt.Sprintf("%s:%d", a.config.BindAddress, a.config.Port)
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to create NBD listener on %s: %w", listenAddr, err)
	}

	a.listenerMu.Lock()
	a.listener = listener
	a.listenerMu.Unlock()

	logger.Info("NBD server listening", "address", listener.Addr().String(), "exports", len(a.exports))

	go func() {
		<-ctx.Done()
		a.initiateShutdown()
	}()

	var sem chan struct{}
	if a.config.MaxConnections > 0 {
		sem = make(chan struct{}, a.config.MaxConnections)
	}

	for {
		if sem != nil {
			select {
			case sem <- struct{}{}:
			case <-a.shutdown:
				return a.gracefulShutdown()
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			if sem != nil {
				<-sem
			}
			select {
			case <-a.shutdown:
				return a.gracefulShutdown()
			default:
				logger.Debug("Error accepting NBD connection", "error", err)
				continue
			}
		}

		if tcp, ok := tcpConn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}

		addr := tcpConn.RemoteAddr().String()
		a.activeConns.Add(1)
		a.connCount.Add(1)
		a.conns.Store(addr, tcpConn)
		a.metrics.ConnectionAccepted()

		logger.Info("Incoming connection", "address", addr, "active", a.connCount.Load())

		conn := newConnection(a, tcpConn)
		go func(addr string) {
			defer func() {
				a.conns.Delete(addr)
				a.activeConns.Done()
				a.connCount.Add(-1)
				if sem != nil {
					<-sem
				}
				a.metrics.ConnectionClosed()
				logger.Debug("Connection closed", "address", addr, "active", a.connCount.Load())
			}()
			conn.serve(ctx)
		}(addr)
	}
}

// initiateShutdown stops the accept loop and interrupts blocking reads so
// connections observe the stop after their current request.
func (a *Adapter) initiateShutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdown)

		a.listenerMu.Lock()
		if a.listener != nil {
			_ = a.listener.Close()
		}
		a.listenerMu.Unlock()

		// Unblock pending reads so connections observe the stop after
		// their current request.
		deadline := time.Now().Add(100 * time.Millisecond)
		a.conns.Range(func(_, value any) bool {
			if conn, ok := value.(net.Conn); ok {
				_ = conn.SetReadDeadline(deadline)
			}
			return true
		})
	})
}

// gracefulShutdown waits for active connections to finish, force-closing
// them when the timeout expires.
func (a *Adapter) gracefulShutdown() error {
	active := a.connCount.Load()
	logger.Info("NBD graceful shutdown: waiting for active connections",
		"active", active, "timeout", a.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		a.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("NBD shutdown complete")
		return nil
	case <-time.After(a.config.ShutdownTimeout):
		remaining := a.connCount.Load()
		logger.Warn("NBD shutdown timeout exceeded, forcing closure", "active", remaining)
		a.conns.Range(func(_, value any) bool {
			if conn, ok := value.(net.Conn); ok {
				_ = conn.Close()
			}
			return true
		})
		a.activeConns.Wait()
		return fmt.Errorf("NBD shutdown timeout: %d connections force-closed", remaining)
	}
}

// shuttingDown reports whether shutdown has been initiated.
func (a *Adapter) shuttingDown() bool {
	select {
	case <-a.shutdown:
		return true
	default:
		return false
	}
}
