// Package bufpool provides a generic lend/return registry for reusable slices.
package bufpool

import (
	"math/bits"
	"sync"
	"sync/atomic"
)

// Pool is a thread-safe pool for reusing slices of T.
//
// Pool groups slices by power-of-two capacity class, so a slice returned
// after renting 100 elements can serve a later request for 120. Contents of
// a rented slice are unspecified: callers must overwrite or clear what they
// read.
//
// Every successful Rent must be matched by exactly one Return. The pool does
// not detect double returns; Stats exposes the counters callers use to check
// for leaks.
//
// Thread safety: All methods are safe for concurrent use.
type Pool[T any] struct {
	mu      sync.Mutex
	buckets map[int][][]T
	maxSize int // max slices per bucket

	rented   atomic.Int64
	returned atomic.Int64
}

// Stats is a snapshot of a pool's rent/return accounting.
type Stats struct {
	Rented      int64
	Returned    int64
	Outstanding int64
}

// New creates a new pool retaining at most maxPerBucket slices per capacity
// class. A maxPerBucket of 0 means unlimited.
func New[T any](maxPerBucket int) *Pool[T] {
	return &Pool[T]{
		buckets: make(map[int][][]T),
		maxSize: maxPerBucket,
	}
}

// class returns the bucket key for a requested length: the exponent of the
// smallest power of two >= n.
func class(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

// Rent returns a slice of length n and capacity of at least n.
// A non-positive n returns nil and is not counted.
func (p *Pool[T]) Rent(n int) []T {
	if n <= 0 {
		return nil
	}
	key := class(n)

	p.mu.Lock()
	bucket := p.buckets[key]
	if len(bucket) > 0 {
		s := bucket[len(bucket)-1]
		bucket[len(bucket)-1] = nil
		p.buckets[key] = bucket[:len(bucket)-1]
		p.mu.Unlock()

		p.rented.Add(1)
		return s[:n]
	}
	p.mu.Unlock()

	p.rented.Add(1)
	return make([]T, n, 1<<key)
}

// Return releases a slice back to the pool. Nil slices are ignored.
// Slices whose capacity is not a power of two were not rented from a
// pool and are counted but discarded.
func (p *Pool[T]) Return(s []T) {
	if s == nil {
		return
	}
	p.returned.Add(1)

	c := cap(s)
	if c == 0 || c&(c-1) != 0 {
		return
	}
	key := class(c)

	p.mu.Lock()
	defer p.mu.Unlock()

	bucket := p.buckets[key]
	if p.maxSize > 0 && len(bucket) >= p.maxSize {
		// Bucket full, let GC take it
		return
	}
	p.buckets[key] = append(bucket, s[:0])
}

// Stats returns the current rent/return counters.
func (p *Pool[T]) Stats() Stats {
	rented := p.rented.Load()
	returned := p.returned.Load()
	return Stats{
		Rented:      rented,
		Returned:    returned,
		Outstanding: rented - returned,
	}
}

// Idle returns the number of slices currently retained by the pool.
func (p *Pool[T]) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for _, bucket := range p.buckets {
		total += len(bucket)
	}
	return total
}
