package jose

import (
	"crypto"
	"testing"

	josecrypto "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"
)

// josePublicJWK builds a bare public JSONWebKey for a signer, for use in
// tests that want to compute a thumbprint independently of Sign/Verify.
func josePublicJWK(t *testing.T, key crypto.Signer) *josecrypto.JSONWebKey {
	t.Helper()
	alg, err := algorithmForKey(key)
	require.NoError(t, err)
	return &josecrypto.JSONWebKey{
		Key:       key.Public(),
		Algorithm: string(alg),
	}
}
