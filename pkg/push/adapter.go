package push

import "context"

// Conn is one live provider connection, owned by exactly one worker.
type Conn interface {
	// Push delivers one notification over this connection. The adapter
	// records the provider's verdict in the notification's Response and
	// Reason fields. A returned error is fatal to the connection and
	// terminates the owning worker; a provider-level rejection is not an
	// error, it is Response == StatusFailure.
	Push(ctx context.Context, n *Notification) error

	// HandleInfo processes a message the worker did not recognise.
	// A returned error terminates the worker, same as Push.
	HandleInfo(msg any) error

	// PeerAddress resolves the remote peer this connection talks to.
	// ok is false when the transport cannot name a single peer; duplicate
	// suppression is then skipped for this connection.
	PeerAddress() (addr string, ok bool)

	Close() error
}

// Adapter is the per-provider capability that opens connections. An adapter
// is configured once at construction and may be asked for any number of
// connections, one per worker.
type Adapter interface {
	Connect(ctx context.Context) (Conn, error)
}

// PoolConfig describes one named worker pool.
type PoolConfig struct {
	// Name identifies the pool to callers of Push.
	Name string
	// Workers is the number of connections the pool maintains.
	Workers int
	// AllowDuplicates disables the duplicate-connection guard for this
	// pool. Required when Workers > 1 and the provider has a single
	// ingress host.
	AllowDuplicates bool
}
