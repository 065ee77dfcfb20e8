package grpcsink

import (
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/soltixdb/rollup/internal/logging"
)

// maxWriteMsgSize bounds one write request; a batch's chunk sets for one
// resolution travel in a single request
const maxWriteMsgSize = 64 * 1024 * 1024

// connPool manages gRPC connections to store nodes. Connections are
// created on demand and replaced when they degrade; there is no
// background health loop, the write path checks state at each use.
type connPool struct {
	mu     sync.RWMutex
	conns  map[string]*grpc.ClientConn
	logger *logging.Logger
	closed bool
}

func newConnPool(logger *logging.Logger) *connPool {
	return &connPool{
		conns:  make(map[string]*grpc.ClientConn),
		logger: logger,
	}
}

// get returns a healthy connection to address, creating or replacing one
// as needed
func (p *connPool) get(address string) (*grpc.ClientConn, error) {
	p.mu.RLock()
	conn, exists := p.conns[address]
	closed := p.closed
	p.mu.RUnlock()

	if closed {
		return nil, fmt.Errorf("connection pool is closed")
	}
	if exists && healthy(conn) {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("connection pool is closed")
	}
	// Re-check under the write lock
	if conn, exists := p.conns[address]; exists {
		if healthy(conn) {
			return conn, nil
		}
		_ = conn.Close()
		delete(p.conns, address)
		p.logger.Warn("Replaced unhealthy store connection", "address", address)
	}

	conn, err := grpc.NewClient(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxWriteMsgSize),
			grpc.MaxCallSendMsgSize(maxWriteMsgSize),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store connection: %w", err)
	}

	p.conns[address] = conn
	p.logger.Debug("Created store connection", "address", address)
	return conn, nil
}

func healthy(conn *grpc.ClientConn) bool {
	state := conn.GetState()
	return state != connectivity.TransientFailure && state != connectivity.Shutdown
}

// close closes every connection; the pool cannot be reused afterward
func (p *connPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	for address, conn := range p.conns {
		if err := conn.Close(); err != nil {
			p.logger.Warn("Failed to close store connection", "address", address, "error", err)
		}
	}
	p.conns = make(map[string]*grpc.ClientConn)
}
