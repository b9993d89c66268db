package challenges

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"

	"github.com/letsencrypt-labs/acme-engine/core"
)

type tlsSNIVerifier struct{}

// sniName renders one half of a TLS-SNI-02 SAN label per spec §4.6.1:
// sha256(input)[0..32].sha256(input)[32..64].acme.invalid.
func sniName(input string) string {
	sum := sha256.Sum256([]byte(input))
	hexSum := hex.EncodeToString(sum[:])
	return fmt.Sprintf("%s.%s.acme.invalid", hexSum[:32], hexSum[32:64])
}

// Verify performs the TLS-SNI-02 probe described in spec §4.6.1: a TLS
// connection to {name}:443 with SNI SAN_A = sniName(token); the presented
// certificate must advertise both SAN_A and SAN_B = sniName(keyAuthorization)
// in its SAN extension.
func (tlsSNIVerifier) Verify(ctx context.Context, name string, challenge *core.Challenge, thumbprint string) core.ChallengeStatus {
	sanA := sniName(challenge.Token)
	sanB := sniName(core.KeyAuthorization(challenge.Token, thumbprint))

	dialer := &tls.Dialer{
		Config: &tls.Config{
			ServerName:         sanA,
			InsecureSkipVerify: true, // the applicant's cert is self-signed by design
		},
	}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(name, "443"))
	if err != nil {
		return core.ChallengeInvalid
	}
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return core.ChallengeInvalid
	}
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return core.ChallengeInvalid
	}
	cert := state.PeerCertificates[0]

	var sawA, sawB bool
	for _, dnsName := range cert.DNSNames {
		if dnsName == sanA {
			sawA = true
		}
		if dnsName == sanB {
			sawB = true
		}
	}
	if sawA && sawB {
		return core.ChallengeValid
	}
	return core.ChallengeInvalid
}
