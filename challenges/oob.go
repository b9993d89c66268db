package challenges

import (
	"context"
	"sync"

	"github.com/letsencrypt-labs/acme-engine/core"
)

// oobWaits tracks pending out-of-band probes, keyed by the challenge token
// that appears in the random URL the server exposes for this mechanism
// (spec §4.6.1, "oob (page-view)"). The WFE mounts an HTTP handler at that
// URL which calls SignalOOB on every GET; Verify blocks on the matching
// channel until that happens or its probe context expires.
var oobWaits = struct {
	mu   sync.Mutex
	seen map[string]chan struct{}
}{seen: make(map[string]chan struct{})}

// RegisterOOB allocates the channel a later SignalOOB/Verify pair will
// rendezvous on. The WFE calls this when minting the out-of-band URL for a
// new Challenge, before handing that URL to the client.
func RegisterOOB(token string) {
	oobWaits.mu.Lock()
	defer oobWaits.mu.Unlock()
	if _, ok := oobWaits.seen[token]; !ok {
		oobWaits.seen[token] = make(chan struct{})
	}
}

// SignalOOB marks an out-of-band challenge's URL as having been visited.
// It is idempotent; a second signal on an already-closed channel is a
// no-op.
func SignalOOB(token string) {
	oobWaits.mu.Lock()
	defer oobWaits.mu.Unlock()
	ch, ok := oobWaits.seen[token]
	if !ok {
		ch = make(chan struct{})
		oobWaits.seen[token] = ch
	}
	select {
	case <-ch:
		// already signaled
	default:
		close(ch)
	}
}

type oobVerifier struct{}

// Verify blocks until the out-of-band URL for this challenge has been
// visited (SignalOOB) or the probe context's timeout elapses, per spec
// §4.6.1.
func (oobVerifier) Verify(ctx context.Context, name string, challenge *core.Challenge, thumbprint string) core.ChallengeStatus {
	oobWaits.mu.Lock()
	ch, ok := oobWaits.seen[challenge.Token]
	if !ok {
		ch = make(chan struct{})
		oobWaits.seen[challenge.Token] = ch
	}
	oobWaits.mu.Unlock()

	select {
	case <-ch:
		return core.ChallengeValid
	case <-ctx.Done():
		return core.ChallengeInvalid
	}
}
