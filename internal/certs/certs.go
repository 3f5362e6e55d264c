// Package certs mints the self-signed root and the serving certificates
// the webhook server's TLS hot-reload path is bootstrapped and tested
// with. Everything is ECDSA P-256 and handed around as PEM, the form the
// cert store and the CA-bundle watcher read from disk.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/scriptguard/scriptguard/internal/constants"
)

// serialLimit bounds the random serial drawn for every certificate.
var serialLimit = new(big.Int).Lsh(big.NewInt(1), 128)

// CA is a self-signed root together with its signing key, able to issue
// serving certificates for the webhook Service. CertPEM doubles as the
// trust bundle stamped into managed webhook configurations.
type CA struct {
	CertPEM []byte
	KeyPEM  []byte

	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

// ServingCert is a CA-signed leaf pair in the PEM form the webhook
// server's cert store loads.
type ServingCert struct {
	CertPEM []byte
	KeyPEM  []byte
}

// NewCA generates a fresh root valid between the given bounds.
func NewCA(notBefore, notAfter time.Time) (*CA, error) {
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return nil, fmt.Errorf("draw ca serial number: %w", err)
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ca key: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: constants.CACommonName},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create ca certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse ca certificate: %w", err)
	}

	keyPEM, err := encodeKeyPEM(key)
	if err != nil {
		return nil, err
	}
	return &CA{
		CertPEM: encodeCertPEM(der),
		KeyPEM:  keyPEM,
		cert:    cert,
		key:     key,
	}, nil
}

// IssueServingCert signs a leaf for dnsName. The leaf carries only the
// server-auth usage the webhook endpoint needs.
func (ca *CA) IssueServingCert(dnsName string, notBefore, notAfter time.Time) (*ServingCert, error) {
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return nil, fmt.Errorf("draw serving serial number: %w", err)
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate serving key: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: dnsName},
		DNSNames:     []string{dnsName},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		return nil, fmt.Errorf("create serving certificate: %w", err)
	}

	keyPEM, err := encodeKeyPEM(key)
	if err != nil {
		return nil, err
	}
	return &ServingCert{CertPEM: encodeCertPEM(der), KeyPEM: keyPEM}, nil
}

// ServiceDNSName is the in-cluster name the webhook Service answers on;
// every issued serving certificate must carry it.
func ServiceDNSName(serviceName, namespace string) string {
	return fmt.Sprintf("%s.%s.svc", serviceName, namespace)
}

// Verify checks that certPEM chains to the roots in caPEM and covers
// dnsName at the given instant.
func Verify(certPEM, caPEM []byte, dnsName string, at time.Time) error {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return errors.New("no pem block in certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return fmt.Errorf("parse certificate: %w", err)
	}

	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(caPEM) {
		return errors.New("no usable roots in ca bundle")
	}

	if _, err := cert.Verify(x509.VerifyOptions{
		Roots:       roots,
		DNSName:     dnsName,
		CurrentTime: at,
	}); err != nil {
		return fmt.Errorf("certificate does not verify: %w", err)
	}
	return nil
}

func encodeCertPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func encodeKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}
