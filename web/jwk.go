package web

import (
	"encoding/json"
	"os"

	jose "github.com/go-jose/go-jose/v4"
)

// LoadJWK loads a JSON encoded JWK specified by filename or returns an error.
func LoadJWK(filename string) (*jose.JSONWebKey, error) {
	jsonBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var jwk jose.JSONWebKey
	if err := json.Unmarshal(jsonBytes, &jwk); err != nil {
		return nil, err
	}
	return &jwk, nil
}
