// Command acme-server runs the ACME server core: the directory and seven
// resource endpoints described in spec §4.7, over plain net/http.
//
// Grounded on cmd/boulder-wfe2/main.go's flag/config/listen-serve-shutdown
// shape, reduced from a gRPC-backed RA/SA split to an in-process
// store.Store and issuance.Coordinator.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/letsencrypt-labs/acme-engine/cmd"
	"github.com/letsencrypt-labs/acme-engine/config"
	"github.com/letsencrypt-labs/acme-engine/pki"
	"github.com/letsencrypt-labs/acme-engine/store"
	"github.com/letsencrypt-labs/acme-engine/web"
	"github.com/letsencrypt-labs/acme-engine/wfe"
)

type serverConfig struct {
	WFE struct {
		cmd.ServiceConfig

		ListenAddress         string
		TLSListenAddress      string
		ServerCertificatePath string
		ServerKeyPath         string
		BasePath              string

		AuthzExpiry        config.Duration
		MaxValiditySeconds int64
		ChallengeTypes     []string
		TermsOfService     string

		RateLimitPOSTs  int
		RateLimitWindow config.Duration

		ShutdownStopTimeout config.Duration
	}

	Syslog cmd.SyslogConfig
}

func main() {
	configFile := flag.String("config", "", "File path to the configuration file for this service")
	flag.Parse()
	if *configFile == "" {
		flag.Usage()
		os.Exit(1)
	}

	var c serverConfig
	err := cmd.ReadConfigFile(*configFile, &c)
	cmd.FailOnError(err, "Reading JSON config file into config structure")

	scope, logger := cmd.StatsAndLogging(c.Syslog, c.WFE.DebugAddr)
	defer logger.AuditPanic()
	logger.Info(cmd.VersionString())

	clk := cmd.Clock()
	st := store.New()
	ca := pki.New(clk)

	// The WFE's scheme gate requires r.TLS to be set. When this binary
	// terminates TLS itself (ServerCertificatePath set) that holds for
	// requests on the TLS listener, and requests on the plain listener are
	// rejected by the gate; otherwise a TLS-terminating proxy is assumed to
	// sit in front of the plain listener, so the gate is relaxed.
	allowInsecure := c.WFE.ServerCertificatePath == ""

	frontEnd := wfe.New(wfe.Config{
		BasePath:           c.WFE.BasePath,
		AuthzExpiry:        c.WFE.AuthzExpiry.Duration,
		MaxValiditySeconds: c.WFE.MaxValiditySeconds,
		ChallengeTypes:     c.WFE.ChallengeTypes,
		TermsOfService:     c.WFE.TermsOfService,
		RateLimitPOSTs:     c.WFE.RateLimitPOSTs,
		RateLimitWindow:    c.WFE.RateLimitWindow.Duration,
		AllowInsecure:      allowInsecure,
	}, st, ca, clk, logger, scope)

	logger.Info("Server running, listening on " + c.WFE.ListenAddress)
	srvVal := web.NewServer(c.WFE.ListenAddress, frontEnd.Handler(), logger)
	srv := &srvVal

	go func() {
		err := srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			cmd.FailOnError(err, "Running HTTP server")
		}
	}()

	var tlsSrv *http.Server
	if c.WFE.TLSListenAddress != "" {
		tlsSrvVal := web.NewServer(c.WFE.TLSListenAddress, frontEnd.Handler(), logger)
		tlsSrv = &tlsSrvVal
		go func() {
			err := tlsSrv.ListenAndServeTLS(c.WFE.ServerCertificatePath, c.WFE.ServerKeyPath)
			if err != nil && err != http.ErrServerClosed {
				cmd.FailOnError(err, "Running HTTPS server")
			}
		}()
	}

	done := make(chan bool)
	go cmd.CatchSignals(logger, func() {
		timeout := c.WFE.ShutdownStopTimeout.Duration
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
		if tlsSrv != nil {
			_ = tlsSrv.Shutdown(ctx)
		}
		done <- true
	})

	<-done
}
