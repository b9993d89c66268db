// Package jose wraps github.com/go-jose/go-jose/v4 with the narrow surface
// the engine needs: account key generation, flattened-JWS sign/verify with
// the protected headers the ACME wire protocol requires, and RFC 7638 JWK
// thumbprints.
package jose

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"

	josecrypto "github.com/go-jose/go-jose/v4"
)

// KeyKind selects the asymmetric key family NewKey generates.
type KeyKind int

const (
	RSA KeyKind = iota
	EC
)

// rsaKeyBits is the modulus size used for generated RSA account keys.
const rsaKeyBits = 2048

// NewKey generates a new account key of the requested kind.
func NewKey(kind KeyKind) (crypto.Signer, error) {
	switch kind {
	case RSA:
		return rsa.GenerateKey(rand.Reader, rsaKeyBits)
	case EC:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	default:
		return nil, fmt.Errorf("jose: unknown key kind %d", kind)
	}
}

// Header carries the protected-header values the caller supplies to Sign;
// alg and jwk are derived from the signing key itself.
type Header struct {
	Nonce string
	URL   string
}

// FlattenedJWS is the flattened JWS serialization
// (https://www.rfc-editor.org/rfc/rfc7515#section-7.2.2), the only
// serialization the wire protocol accepts.
type FlattenedJWS struct {
	Protected string `json:"protected"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

var allowedAlgorithms = []josecrypto.SignatureAlgorithm{
	josecrypto.RS256,
	josecrypto.ES256,
	josecrypto.ES384,
	josecrypto.ES512,
}

func algorithmForKey(key crypto.Signer) (josecrypto.SignatureAlgorithm, error) {
	switch k := key.Public().(type) {
	case *rsa.PublicKey:
		return josecrypto.RS256, nil
	case *ecdsa.PublicKey:
		switch k.Params().Name {
		case "P-256":
			return josecrypto.ES256, nil
		case "P-384":
			return josecrypto.ES384, nil
		case "P-521":
			return josecrypto.ES512, nil
		}
	}
	return "", fmt.Errorf("jose: no signature algorithm for key type %T", key.Public())
}

// Sign produces a flattened JWS over payload, with a protected header
// carrying alg, an embedded jwk, nonce, and url.
func Sign(key crypto.Signer, payload []byte, header Header) (*FlattenedJWS, error) {
	alg, err := algorithmForKey(key)
	if err != nil {
		return nil, err
	}

	opts := &josecrypto.SignerOptions{EmbedJWK: true}
	opts = opts.WithHeader("nonce", header.Nonce).WithHeader("url", header.URL)

	signer, err := josecrypto.NewSigner(josecrypto.SigningKey{Algorithm: alg, Key: key}, opts)
	if err != nil {
		return nil, fmt.Errorf("jose: creating signer: %w", err)
	}

	signed, err := signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("jose: signing: %w", err)
	}

	serialized := signed.FullSerialize()
	var flat FlattenedJWS
	if err := json.Unmarshal([]byte(serialized), &flat); err != nil {
		return nil, fmt.Errorf("jose: re-parsing serialized signature: %w", err)
	}
	return &flat, nil
}

// Verify checks the signature on jws against the embedded JWK, returning
// the verifying key, the decoded protected header fields the transport
// layer cares about, and the decoded payload.
func Verify(flat *FlattenedJWS) (key *josecrypto.JSONWebKey, header Header, payload []byte, err error) {
	raw, err := json.Marshal(flat)
	if err != nil {
		return nil, Header{}, nil, fmt.Errorf("jose: marshalling flattened JWS: %w", err)
	}

	parsed, err := josecrypto.ParseSigned(string(raw), allowedAlgorithms)
	if err != nil {
		return nil, Header{}, nil, fmt.Errorf("jose: parsing JWS: %w", err)
	}
	if len(parsed.Signatures) != 1 {
		return nil, Header{}, nil, fmt.Errorf("jose: JWS must carry exactly one signature")
	}

	sigHeader := parsed.Signatures[0].Header
	if sigHeader.JSONWebKey == nil {
		return nil, Header{}, nil, fmt.Errorf("jose: JWS has no embedded jwk")
	}

	payload, err = parsed.Verify(sigHeader.JSONWebKey)
	if err != nil {
		return nil, Header{}, nil, fmt.Errorf("jose: signature verification failed: %w", err)
	}

	// go-jose parses "nonce" into Header.Nonce; "url" is not a registered
	// header, so it stays in ExtraHeaders.
	nonce := sigHeader.Nonce
	url, _ := sigHeader.ExtraHeaders["url"].(string)
	if nonce == "" {
		return nil, Header{}, nil, fmt.Errorf("jose: protected header missing nonce")
	}
	if url == "" {
		return nil, Header{}, nil, fmt.Errorf("jose: protected header missing url")
	}

	return sigHeader.JSONWebKey, Header{Nonce: nonce, URL: url}, payload, nil
}

// Thumbprint computes the RFC 7638 base64url-SHA-256 thumbprint of the
// canonical JWK.
func Thumbprint(key *josecrypto.JSONWebKey) (string, error) {
	thumb, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("jose: computing thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(thumb), nil
}

// JWKFromPublicKey wraps a bare RSA or ECDSA public key (as found in a CSR
// or certificate, which carry no JWK metadata) in a JSONWebKey so it can be
// thumbprinted the same way an account key is.
func JWKFromPublicKey(pub interface{}) (*josecrypto.JSONWebKey, error) {
	switch pub.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
		return &josecrypto.JSONWebKey{Key: pub}, nil
	default:
		return nil, fmt.Errorf("jose: unsupported public key type %T", pub)
	}
}
