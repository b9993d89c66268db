package web

import (
	"crypto/tls"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRelativeEndpointHTTP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Host = "example.com"
	assert.Equal(t, "http://example.com/acme/reg/1", RelativeEndpoint(req, "/acme/reg", "1"))
}

func TestRelativeEndpointHTTPS(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Host = "example.com"
	req.TLS = &tls.ConnectionState{}
	assert.Equal(t, "https://example.com/acme/app/9", RelativeEndpoint(req, "/acme/app", "9"))
}

func TestRelativeEndpointForwardedProto(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Host = "example.com"
	req.Header.Set("X-Forwarded-Proto", "https")
	assert.Equal(t, "https://example.com/acme/authz", RelativeEndpoint(req, "/acme/authz"))
}

func TestRelativeEndpointDefaultsHost(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Host = ""
	assert.Equal(t, "http://localhost/acme/reg", RelativeEndpoint(req, "/acme/reg"))
}
