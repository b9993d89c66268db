// Package nonce implements a service for generating and redeeming
// anti-replay nonces. Nonces are monotonically increasing counters rendered
// as decimal strings. To redeem a nonce, the service checks that it parses
// to an integer strictly greater than "earliest" and at most "latest", and
// that it is not on the cross-off list. To avoid a constantly growing
// cross-off list, the service periodically retires the oldest counter
// values by finding the lowest counter value in the cross-off list,
// deleting it, and setting "earliest" to its value. To make this
// efficient, the cross-off list is represented two ways: once as a map,
// for quick lookup of a given value, and once as a heap, to quickly find
// the lowest value.
// The MaxUsed value determines how long a generated nonce can be used before
// it is forgotten. To calculate that period, divide the MaxUsed value by the
// average redemption rate (valid POSTs per second).
package nonce

import (
	"container/heap"
	"strconv"
	"sync"
	"time"

	"github.com/letsencrypt-labs/acme-engine/metrics"
)

// MaxUsed defines the maximum number of nonces the service is willing to
// hold in its used-value window.
const MaxUsed = 65536

// NonceService generates, validates, and tracks nonces.
type NonceService struct {
	mu       sync.Mutex
	latest   int64
	earliest int64
	used     map[int64]bool
	usedHeap *int64Heap
	maxUsed  int
	stats    metrics.Scope
}

type int64Heap []int64

func (h int64Heap) Len() int           { return len(h) }
func (h int64Heap) Less(i, j int) bool { return h[i] < h[j] }
func (h int64Heap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *int64Heap) Push(x interface{}) {
	*h = append(*h, x.(int64))
}

func (h *int64Heap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// NewNonceService constructs a NonceService whose counter starts at start.
func NewNonceService(scope metrics.Scope, start int64) *NonceService {
	scope = scope.NewScope("NonceService")
	return &NonceService{
		earliest: start,
		latest:   start,
		used:     make(map[int64]bool, MaxUsed),
		usedHeap: &int64Heap{},
		maxUsed:  MaxUsed,
		stats:    scope,
	}
}

// Nonce issues a fresh nonce.
func (ns *NonceService) Nonce() string {
	ns.mu.Lock()
	ns.latest++
	latest := ns.latest
	ns.mu.Unlock()
	ns.stats.Inc("Generated", 1)
	return strconv.FormatInt(latest, 10)
}

// Valid reports whether the given nonce string is acceptable, consuming it
// on success so it cannot be accepted a second time.
func (ns *NonceService) Valid(nonce string) bool {
	// Reject anything that isn't the canonical decimal rendering of a
	// non-negative integer, including leading zeroes, signs, and whitespace.
	value, err := strconv.ParseInt(nonce, 10, 64)
	if err != nil || value < 0 || strconv.FormatInt(value, 10) != nonce {
		ns.stats.Inc("Invalid.Malformed", 1)
		return false
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	if value > ns.latest {
		ns.stats.Inc("Invalid.TooHigh", 1)
		return false
	}
	if value <= ns.earliest {
		ns.stats.Inc("Invalid.TooLow", 1)
		return false
	}
	if ns.used[value] {
		ns.stats.Inc("Invalid.AlreadyUsed", 1)
		return false
	}

	ns.used[value] = true
	heap.Push(ns.usedHeap, value)
	if len(ns.used) > ns.maxUsed {
		start := time.Now()
		ns.earliest = heap.Pop(ns.usedHeap).(int64)
		ns.stats.TimingDuration("Heap.Latency", time.Since(start))
		delete(ns.used, ns.earliest)
	}

	ns.stats.Inc("Valid", 1)
	return true
}
