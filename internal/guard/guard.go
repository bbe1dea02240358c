// Package guard prevents two workers from holding redundant connections to
// the same remote peer. A claim is an exclusive reservation of a peer
// address, granted by a single atomic insert-if-absent, and released when
// the owning worker terminates.
package guard

import (
	"context"
	"sync"
	"time"
)

// Guard is the claim registry. Implementations must make Claim atomic:
// under concurrent calls for the same address exactly one caller wins.
type Guard interface {
	// Claim reserves addr. claimed is false when another live connection
	// already holds it.
	Claim(ctx context.Context, addr string) (claimed bool, err error)

	// Release frees addr so a reconnecting peer can reclaim it. Callers
	// tie this to worker termination, not to best-effort cleanup.
	Release(ctx context.Context, addr string) error
}

// Memory is the process-local Guard. The atomic insert-if-absent is
// sync.Map's LoadOrStore, never a check-then-insert sequence.
type Memory struct {
	addrs sync.Map // addr -> claim time
}

func NewMemory() *Memory {
	return &Memory{}
}

func (g *Memory) Claim(_ context.Context, addr string) (bool, error) {
	_, loaded := g.addrs.LoadOrStore(addr, time.Now())
	return !loaded, nil
}

func (g *Memory) Release(_ context.Context, addr string) error {
	g.addrs.Delete(addr)
	return nil
}
