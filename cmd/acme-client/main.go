// Command acme-client drives the ACME client core end to end: generate an
// account key, register, submit an application for a CSR, solve every
// pending authorization's challenges, and write out the issued certificate.
//
// Grounded on cpu-acmeshell's acme/client/csr.go for CSR generation and on
// its shell/commands/* one-flow-per-subcommand style, reduced from an
// interactive REPL to a single linear run since Non-goals exclude a UI.
package main

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/letsencrypt-labs/acme-engine/client"
	"github.com/letsencrypt-labs/acme-engine/web"
)

func main() {
	directoryURL := flag.String("directory", "", "ACME server directory URL")
	domains := flag.String("domains", "", "comma-separated list of DNS names to request a certificate for")
	contact := flag.String("contact", "", "comma-separated list of contact URIs (e.g. mailto:admin@example.com)")
	out := flag.String("out", "cert.pem", "path to write the issued certificate (PEM) to")
	httpAddr := flag.String("http-addr", "", "address to bind the HTTP-01 challenge solver on, e.g. :5002")
	dnsAddr := flag.String("dns-addr", "", "address to bind the DNS-01 challenge solver on, e.g. :5053")
	tlsAddr := flag.String("tls-addr", "", "address to bind the TLS-SNI-02 challenge solver on, e.g. :5001")
	keyFile := flag.String("key-file", "", "path to an existing JWK-encoded account key; a fresh one is generated if omitted")
	flag.Parse()

	if *directoryURL == "" || *domains == "" {
		flag.Usage()
		os.Exit(1)
	}
	names := strings.Split(*domains, ",")

	accountKey, err := loadOrGenerateAccountKey(*keyFile)
	fatalOnError(err, "loading account key")

	c := client.New(*directoryURL, accountKey)

	var contacts []string
	if *contact != "" {
		contacts = strings.Split(*contact, ",")
	}
	err = c.Register(contacts)
	fatalOnError(err, "registering account")
	fmt.Printf("registered account at %s\n", c.AccountURL)

	certKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	fatalOnError(err, "generating certificate key")
	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: names[0]},
		DNSNames: names,
	}, certKey)
	fatalOnError(err, "creating CSR")

	var solver *client.Solver
	if *httpAddr != "" || *dnsAddr != "" || *tlsAddr != "" {
		solver, err = client.NewSolver(*httpAddr, *tlsAddr, *dnsAddr)
		fatalOnError(err, "starting challenge solver")
		defer solver.Shutdown()
	}

	certDER, err := c.RequestCertificate(csrDER, solver)
	fatalOnError(err, "requesting certificate")

	f, err := os.Create(*out)
	fatalOnError(err, "creating output file")
	defer f.Close()
	err = pem.Encode(f, &pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	fatalOnError(err, "writing certificate")

	fmt.Printf("wrote certificate for %s to %s\n", strings.Join(names, ", "), *out)
}

func fatalOnError(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", msg, err)
		os.Exit(1)
	}
}

// loadOrGenerateAccountKey loads a JWK-encoded private key from path, or
// generates a fresh ECDSA P-256 key if path is empty.
func loadOrGenerateAccountKey(path string) (crypto.Signer, error) {
	if path == "" {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}
	jwk, err := web.LoadJWK(path)
	if err != nil {
		return nil, fmt.Errorf("loading key file %q: %w", path, err)
	}
	signer, ok := jwk.Key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("key file %q does not contain a private key", path)
	}
	return signer, nil
}
