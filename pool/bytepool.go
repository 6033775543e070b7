// Author: momentics <momentics@gmail.com>
//
// BytePool implements api.BytePool over sync.Pool: fixed-size slabs handed
// out at their full length and re-sliced to size on Release. Grounded on the
// teacher's api/pool.go BytePool contract (Acquire(n)/Release(buf)); the
// teacher's own size-classed slab allocator (pool/slab_pool.go) went
// further than corio needs, since its one caller (cmd/corio-echo's
// per-connection loop) asks for one fixed scratch size per connection.

package pool

import (
	"sync"

	"github.com/momentics/corio/api"
)

// BytePool hands out []byte slices of a single fixed capacity.
type BytePool struct {
	size int
	pool sync.Pool
}

var _ api.BytePool = (*BytePool)(nil)

// NewBytePool creates a BytePool whose buffers are all size bytes long.
func NewBytePool(size int) *BytePool {
	bp := &BytePool{size: size}
	bp.pool.New = func() any {
		return make([]byte, size)
	}
	return bp
}

// Acquire returns a buffer of at least n bytes. Requests larger than the
// pool's fixed size bypass the pool entirely (freshly allocated, not
// pooled on Release).
func (bp *BytePool) Acquire(n int) []byte {
	if n > bp.size {
		return make([]byte, n)
	}
	buf := bp.pool.Get().([]byte)
	return buf[:bp.size]
}

// Release returns buf to the pool if it matches the pool's fixed
// capacity; anything else is dropped for the GC to reclaim.
func (bp *BytePool) Release(buf []byte) {
	if cap(buf) != bp.size {
		return
	}
	bp.pool.Put(buf[:bp.size])
}
