// Command vaultd-tls bootstraps a development certificate authority plus a
// server and client leaf certificate for mutual TLS, so a fresh checkout can
// exercise vaultd end to end without a real PKI. It is not meant for
// production issuance; a deployment should bring its own CA.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func main() {
	outDir := flag.String("out-dir", "./certs", "directory to write the CA, server, and client cert/key pairs into")
	hosts := flag.String("hosts", "localhost,127.0.0.1", "comma-separated DNS names and IP addresses the server certificate covers")
	clientName := flag.String("client-cn", "vaultd-client", "common name for the generated client certificate")
	flag.Parse()

	if err := run(*outDir, *hosts, *clientName); err != nil {
		log.Fatalf("vaultd-tls: %v", err)
	}
}

func run(outDir, hosts, clientName string) error {
	if err := os.MkdirAll(outDir, 0o700); err != nil {
		return fmt.Errorf("create certificate directory: %w", err)
	}

	caCert, caKey, err := generateCA()
	if err != nil {
		return fmt.Errorf("generate CA: %w", err)
	}
	if err := writePair(outDir, "ca", caCert.Raw, caKey); err != nil {
		return err
	}

	hostList := strings.Split(hosts, ",")
	serverDER, serverKey, err := generateLeaf(caCert, caKey, pkix.Name{CommonName: "vaultd-server"}, hostList, x509.ExtKeyUsageServerAuth)
	if err != nil {
		return fmt.Errorf("generate server certificate: %w", err)
	}
	if err := writePair(outDir, "server", serverDER, serverKey); err != nil {
		return err
	}

	clientDER, clientKey, err := generateLeaf(caCert, caKey, pkix.Name{CommonName: clientName}, nil, x509.ExtKeyUsageClientAuth)
	if err != nil {
		return fmt.Errorf("generate client certificate: %w", err)
	}
	if err := writePair(outDir, "client", clientDER, clientKey); err != nil {
		return err
	}

	clientCert, err := x509.ParseCertificate(clientDER)
	if err != nil {
		return fmt.Errorf("parse generated client certificate: %w", err)
	}
	sum := sha256.Sum256(clientCert.Raw)
	fmt.Printf("wrote ca.crt, server.crt/.key, and client.crt/.key to %s\n", outDir)
	fmt.Printf("client fingerprint (peer identity): %s\n", hex.EncodeToString(sum[:]))
	return nil
}

// generateCA creates a self-signed, CA-capable RSA-4096 certificate.
func generateCA() (*x509.Certificate, *rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		return nil, nil, fmt.Errorf("generate CA private key: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{Organization: []string{"vaultd dev CA"}, CommonName: "vaultd dev CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(3 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("create CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, fmt.Errorf("parse CA certificate: %w", err)
	}
	return cert, key, nil
}

// generateLeaf creates a certificate signed by the CA for one of the server
// or client roles, covering hosts (server only; nil for client).
func generateLeaf(ca *x509.Certificate, caKey *rsa.PrivateKey, subject pkix.Name, hosts []string, usage x509.ExtKeyUsage) ([]byte, *rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		return nil, nil, fmt.Errorf("generate private key: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      subject,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(3 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
	}

	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca, &key.PublicKey, caKey)
	if err != nil {
		return nil, nil, fmt.Errorf("create certificate: %w", err)
	}
	return der, key, nil
}

func writePair(dir, name string, certDER []byte, key *rsa.PrivateKey) error {
	certPath := filepath.Join(dir, name+".crt")
	keyPath := filepath.Join(dir, name+".key")

	certOut, err := os.Create(certPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", certPath, err)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: certDER}); err != nil {
		return fmt.Errorf("write %s: %w", certPath, err)
	}

	keyOut, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", keyPath, err)
	}
	defer keyOut.Close()
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal private key for %s: %w", name, err)
	}
	if err := pem.Encode(keyOut, &pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}); err != nil {
		return fmt.Errorf("write %s: %w", keyPath, err)
	}

	return nil
}

// sanityCheck is exercised by main_test.go to confirm a generated pair
// round-trips through tls.LoadX509KeyPair, the same loader vaultd itself
// uses at startup.
func sanityCheck(certPath, keyPath string) error {
	_, err := tls.LoadX509KeyPair(certPath, keyPath)
	return err
}
