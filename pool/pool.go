// Package pool provides pooled byte slabs for the codec's variable-length
// payloads.
//
// Slabs come in power-of-two size classes from 64 bytes to 1 MiB, each class
// backed by a sync.Pool. Requests above the largest class are allocated
// directly and are never recycled. A slab is handed out as a Lease with a
// reference count of one; every Retain must be matched by a Release, and the
// slab goes back to its class when the count drops to zero.
package pool

import (
	"math/bits"
	"sync"
	"sync/atomic"
)

const (
	minShift   = 6  // 64 B
	maxShift   = 20 // 1 MiB
	numClasses = maxShift - minShift + 1

	// MaxPooledSize is the largest request served from a size class.
	MaxPooledSize = 1 << maxShift
)

// Pool is a set of size-classed slab pools. The zero value is not usable;
// construct with New. A Pool is safe for concurrent use.
type Pool struct {
	classes [numClasses]sync.Pool

	rents    atomic.Uint64
	returns  atomic.Uint64
	unpooled atomic.Uint64
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Rents    uint64 // leases handed out
	Returns  uint64 // slabs put back into a size class
	Unpooled uint64 // leases too large for any class
}

// Default is the process-wide pool used when callers do not supply one.
var Default = New()

// New creates an empty Pool.
func New() *Pool {
	p := &Pool{}
	for i := 0; i < numClasses; i++ {
		size := classSize(i)
		idx := int8(i)
		p.classes[i].New = func() interface{} {
			return &Lease{buf: make([]byte, size), class: idx, pool: p}
		}
	}
	return p
}

// Rent returns a lease whose Bytes() has length size. The contents are not
// zeroed.
func (p *Pool) Rent(size int) *Lease {
	if size < 0 {
		panic("pool: negative size")
	}
	p.rents.Add(1)
	var l *Lease
	if size > MaxPooledSize {
		p.unpooled.Add(1)
		l = &Lease{buf: make([]byte, size), class: -1, pool: p}
	} else {
		l = p.classes[classIndex(size)].Get().(*Lease)
		l.buf = l.buf[:size]
	}
	l.refs.Store(1)
	return l
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Rents:    p.rents.Load(),
		Returns:  p.returns.Load(),
		Unpooled: p.unpooled.Load(),
	}
}

func (p *Pool) put(l *Lease) {
	if l.class < 0 {
		return
	}
	p.returns.Add(1)
	l.buf = l.buf[:cap(l.buf)]
	p.classes[l.class].Put(l)
}

func classIndex(size int) int {
	if size <= 1<<minShift {
		return 0
	}
	return bits.Len(uint(size-1)) - minShift
}

func classSize(i int) int {
	return 1 << (minShift + i)
}

// Lease is a reference-counted hold on a pooled slab.
type Lease struct {
	buf   []byte
	class int8
	refs  atomic.Int32
	pool  *Pool
}

// Bytes returns the leased region. It must not be used after the final
// Release.
func (l *Lease) Bytes() []byte {
	return l.buf
}

// Len returns the length of the leased region.
func (l *Lease) Len() int {
	return len(l.buf)
}

// Cap returns the capacity of the underlying slab.
func (l *Lease) Cap() int {
	return cap(l.buf)
}

// SetLen changes the length of the leased region within the slab capacity.
func (l *Lease) SetLen(n int) {
	l.buf = l.buf[:n]
}

// Retain adds a holder to the lease and returns it.
func (l *Lease) Retain() *Lease {
	if l.refs.Add(1) <= 1 {
		panic("pool: retain of released lease")
	}
	return l
}

// Release drops one holder. When the last holder releases, the slab returns
// to its pool and the lease must not be touched again.
func (l *Lease) Release() {
	switch n := l.refs.Add(-1); {
	case n == 0:
		l.pool.put(l)
	case n < 0:
		panic("pool: lease released more times than retained")
	}
}

// Refs returns the current holder count.
func (l *Lease) Refs() int {
	return int(l.refs.Load())
}
