package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	blog "github.com/letsencrypt-labs/acme-engine/log"
	"github.com/stretchr/testify/assert"
)

type myHandler struct{}

func (m myHandler) ServeHTTP(e *RequestEvent, w http.ResponseWriter, r *http.Request) {
	e.Endpoint = "/endpoint"
	w.WriteHeader(201)
	_, _ = w.Write([]byte("hi"))
}

func TestLogCode(t *testing.T) {
	mockLog := blog.NewMock()
	th := NewTopHandler(mockLog, myHandler{})
	req := httptest.NewRequest("GET", "/thisisignored", nil)

	th.ServeHTTP(httptest.NewRecorder(), req)

	matches := mockLog.GetAllMatching("GET /endpoint")
	assert.Len(t, matches, 1)
	assert.Contains(t, matches[0].Message, "GET /endpoint  201")
}

func TestGetClientAddr(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1:1234", GetClientAddr(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.1")
	assert.Equal(t, "203.0.113.1,10.0.0.1:1234", GetClientAddr(req))
}
