// Package cmd provides the small set of utilities shared by the engine's
// two binaries: config-file loading, a fatal-error helper, and the
// logging/metrics bring-up every `main` needs before it can do anything
// useful.
//
// Grounded on cmd/shell.go's FailOnError/LoadCert/DebugServer and on
// cmd/boulder-wfe2/main.go's StatsAndLogging/ReadConfigFile/CatchSignals
// call sites, reduced from AMQP/statsd-era plumbing to the engine's actual
// dependencies (Prometheus, syslog, jmhodges/clock).
package cmd

import (
	"encoding/json"
	"fmt"
	"log/syslog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	blog "github.com/letsencrypt-labs/acme-engine/log"
	"github.com/letsencrypt-labs/acme-engine/metrics"
)

// version is reported by VersionString. The engine has no release
// process, so this is a fixed string rather than a build-time stamp.
const version = "0.1.0"

// ServiceConfig holds configuration common to both binaries, meant to be
// embedded in a binary-specific config struct the way cmd.ServiceConfig is
// embedded in boulder-wfe2's config.
type ServiceConfig struct {
	// DebugAddr serves /debug/pprof/* and /metrics, if set.
	DebugAddr string
}

// SyslogConfig controls how noisy syslog and stdout logging are.
type SyslogConfig struct {
	StdoutLevel int
	SyslogLevel int
}

// ReadConfigFile reads the JSON file at filename into out.
func ReadConfigFile(filename string, out interface{}) error {
	configData, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("reading %q: %w", filename, err)
	}
	if err := json.Unmarshal(configData, out); err != nil {
		return fmt.Errorf("parsing %q: %w", filename, err)
	}
	return nil
}

// FailOnError exits and prints an error message if we encountered a
// problem.
func FailOnError(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", msg, err)
		os.Exit(1)
	}
}

// VersionString produces a friendly Application version string.
func VersionString() string {
	return fmt.Sprintf("acme-engine version %s", version)
}

// Clock returns the default wall clock. Binaries use this instead of
// clock.Default() directly so every clock.Clock in the process traces back
// to a single call site, matching the teacher's cmd.Clock() convention.
func Clock() clock.Clock {
	return clock.Default()
}

// StatsAndLogging brings up the engine's logging and metrics backends: a
// Prometheus registry exposed at /metrics on debugAddr, and a syslog+stdout
// Logger at the levels named in c. If debugAddr is empty, metrics are
// still collected in-process but never exposed over HTTP.
func StatsAndLogging(c SyslogConfig, debugAddr string) (metrics.Scope, blog.Logger) {
	scope := metrics.NewPromScope(prometheus.DefaultRegisterer)

	syslogger, err := syslog.Dial("", "", syslog.LOG_INFO|syslog.LOG_LOCAL0, "acme-engine")
	FailOnError(err, "Could not connect to syslog")
	logger, err := blog.New(syslogger, c.StdoutLevel, c.SyslogLevel)
	FailOnError(err, "Could not initialize logger")
	_ = blog.Set(logger)

	if debugAddr != "" {
		go DebugServer(debugAddr)
	}

	return scope, logger
}

// DebugServer serves /metrics and /debug/pprof/* on addr. It runs forever
// and is meant to be started in its own goroutine.
func DebugServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{Addr: addr, Handler: mux}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "debug server on %s: %s\n", addr, err)
	}
}

// CatchSignals waits for SIGTERM or SIGINT, logs the shutdown, and calls
// callback. It blocks until a signal arrives.
func CatchSignals(logger blog.Logger, callback func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.Info(fmt.Sprintf("Caught signal %s, shutting down", sig))
	callback()
}
