package challenges

import (
	"context"
	"crypto/sha256"
	"encoding/base64"

	"github.com/miekg/dns"

	"github.com/letsencrypt-labs/acme-engine/core"
)

// Resolver is the address of the recursive resolver DNS-01 queries through
// a TCP connection, as required by spec §4.6.1. It is a package variable
// rather than a hardcoded constant so tests can point it at an in-process
// mock server (grounded on va/va.go's dnsResolver field, simplified from a
// pluggable bdns.Client down to a single TCP address since Non-goals
// exclude production-grade multi-resolver DNS tooling).
var Resolver = "127.0.0.1:53"

type dnsVerifier struct{}

// Verify performs the DNS-01 probe described in spec §4.6.1: a TXT lookup
// of _acme-challenge.{name} via a TCP resolver; any returned record must
// equal base64url(SHA-256(keyAuthorization)).
func (dnsVerifier) Verify(ctx context.Context, name string, challenge *core.Challenge, thumbprint string) core.ChallengeStatus {
	expected := expectedDNS01Value(challenge.Token, thumbprint)

	client := &dns.Client{Net: "tcp"}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn("_acme-challenge."+name), dns.TypeTXT)

	in, _, err := client.ExchangeContext(ctx, msg, Resolver)
	if err != nil || in == nil {
		return core.ChallengeInvalid
	}

	for _, rr := range in.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		for _, s := range txt.Txt {
			if s == expected {
				return core.ChallengeValid
			}
		}
	}
	return core.ChallengeInvalid
}

// expectedDNS01Value computes the base64url(SHA-256(keyAuthorization))
// value a DNS-01 TXT record must carry.
func expectedDNS01Value(token, thumbprint string) string {
	sum := sha256.Sum256([]byte(core.KeyAuthorization(token, thumbprint)))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
