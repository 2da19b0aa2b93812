package neural

import (
	"errors"
	"sync/atomic"
)

// ErrBufferInUse is returned when a claim is attempted while the pool's
// buffers are held. Recoverable: callers fall back to heap buffers.
var ErrBufferInUse = errors.New("buffer pool in use")

// BufferPool holds one input and one output tensor buffer per detector
// instance. Buffers are claimed at Detect entry and released at exit; the
// claim is a scoped object that releases on all exit paths.
type BufferPool struct {
	input  []float32
	output []float32
	inUse  atomic.Bool
}

// NewBufferPool reserves buffers of the given element counts.
func NewBufferPool(inputLen, outputLen int) *BufferPool {
	return &BufferPool{
		input:  make([]float32, inputLen),
		output: make([]float32, outputLen),
	}
}

// Bytes returns the pool's reserved size in bytes.
func (p *BufferPool) Bytes() int {
	return (len(p.input) + len(p.output)) * 4
}

// Claim takes exclusive use of the buffers. A concurrent claim fails with
// ErrBufferInUse rather than blocking.
func (p *BufferPool) Claim() (*PoolClaim, error) {
	if !p.inUse.CompareAndSwap(false, true) {
		return nil, ErrBufferInUse
	}
	return &PoolClaim{pool: p}, nil
}

// PoolClaim is a scoped hold on the pool's buffers. Release is idempotent
// and must run on every exit path (defer it at the claim site).
type PoolClaim struct {
	pool     *BufferPool
	released atomic.Bool
}

// Input returns the pooled input buffer.
func (c *PoolClaim) Input() []float32 { return c.pool.input }

// Output returns the pooled output buffer.
func (c *PoolClaim) Output() []float32 { return c.pool.output }

// Release returns the buffers to the pool.
func (c *PoolClaim) Release() {
	if c.released.CompareAndSwap(false, true) {
		c.pool.inUse.Store(false)
	}
}
