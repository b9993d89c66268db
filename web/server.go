package web

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"time"

	blog "github.com/letsencrypt-labs/acme-engine/log"
)

type errorWriter struct {
	blog.Logger
}

func (ew errorWriter) Write(p []byte) (n int, err error) {
	// net/http.Server appends a newline to every message before calling
	// Write; strip it so multi-line syslog entries don't get split.
	p = bytes.TrimRight(p, "\n")
	ew.Logger.Err(fmt.Sprintf("net/http.Server: %s", p))
	return len(p), nil
}

// NewServer returns an http.Server which will listen on the given address,
// when started, for each path in the handler. Errors are sent to the given
// logger.
func NewServer(listenAddr string, handler http.Handler, logger blog.Logger) http.Server {
	return http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
		Addr:         listenAddr,
		ErrorLog:     log.New(errorWriter{logger}, "", 0),
		Handler:      handler,
	}
}
