package nonce

import (
	"testing"

	"github.com/letsencrypt-labs/acme-engine/metrics"
	"github.com/stretchr/testify/assert"
)

func TestValidNonce(t *testing.T) {
	ns := NewNonceService(metrics.NewNoopScope(), 0)
	n := ns.Nonce()
	assert.True(t, ns.Valid(n), "did not recognize fresh nonce")
}

func TestAlreadyUsed(t *testing.T) {
	ns := NewNonceService(metrics.NewNoopScope(), 0)
	n := ns.Nonce()
	assert.True(t, ns.Valid(n))
	assert.False(t, ns.Valid(n), "recognized the same nonce twice")
}

func TestRejectMalformed(t *testing.T) {
	ns := NewNonceService(metrics.NewNoopScope(), 0)
	n := ns.Nonce()
	assert.False(t, ns.Valid("asdf"+n))
	assert.False(t, ns.Valid("-1"))
	assert.False(t, ns.Valid("007"))
	assert.False(t, ns.Valid(""))
}

func TestRejectUnknown(t *testing.T) {
	ns1 := NewNonceService(metrics.NewNoopScope(), 0)
	ns2 := NewNonceService(metrics.NewNoopScope(), 0)
	n := ns1.Nonce()
	assert.False(t, ns2.Valid(n), "accepted a foreign nonce")
}

func TestRejectTooLate(t *testing.T) {
	ns := NewNonceService(metrics.NewNoopScope(), 2)
	n := ns.Nonce()
	ns.latest = 1
	assert.False(t, ns.Valid(n), "accepted a nonce with a too-high counter")
}

func TestRejectTooEarly(t *testing.T) {
	ns := NewNonceService(metrics.NewNoopScope(), 0)
	ns.maxUsed = 2

	n0 := ns.Nonce()
	n1 := ns.Nonce()
	n2 := ns.Nonce()
	n3 := ns.Nonce()

	assert.True(t, ns.Valid(n3))
	assert.True(t, ns.Valid(n2))
	assert.True(t, ns.Valid(n1))
	assert.False(t, ns.Valid(n0), "accepted a nonce that should have been forgotten")
}

func BenchmarkGeneration(b *testing.B) {
	ns := NewNonceService(metrics.NewNoopScope(), 0)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			ns.Nonce()
		}
	})
}
