package certs

import (
	"crypto/tls"
	"testing"
	"time"
)

func TestIssuedServingCertVerifiesAgainstItsCA(t *testing.T) {
	notBefore := time.Now().Add(-time.Hour)
	notAfter := notBefore.Add(24 * time.Hour)

	ca, err := NewCA(notBefore, notAfter)
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}

	dnsName := ServiceDNSName("scriptguard-webhook", "scriptguard-system")
	serving, err := ca.IssueServingCert(dnsName, notBefore, notAfter)
	if err != nil {
		t.Fatalf("IssueServingCert: %v", err)
	}

	if err := Verify(serving.CertPEM, ca.CertPEM, dnsName, time.Now()); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// The pair must load the way the webhook cert store loads it.
	if _, err := tls.X509KeyPair(serving.CertPEM, serving.KeyPEM); err != nil {
		t.Fatalf("X509KeyPair: %v", err)
	}
}

func TestVerifyRejectsExpiredCert(t *testing.T) {
	notBefore := time.Now().Add(-48 * time.Hour)
	notAfter := notBefore.Add(24 * time.Hour)

	ca, err := NewCA(notBefore, notAfter)
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}
	dnsName := ServiceDNSName("scriptguard-webhook", "scriptguard-system")
	serving, err := ca.IssueServingCert(dnsName, notBefore, notAfter)
	if err != nil {
		t.Fatalf("IssueServingCert: %v", err)
	}

	if err := Verify(serving.CertPEM, ca.CertPEM, dnsName, time.Now()); err == nil {
		t.Fatal("expected Verify to reject an expired certificate")
	}
}

func TestVerifyRejectsWrongDNSName(t *testing.T) {
	notBefore := time.Now().Add(-time.Hour)
	notAfter := notBefore.Add(24 * time.Hour)

	ca, err := NewCA(notBefore, notAfter)
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}
	serving, err := ca.IssueServingCert(ServiceDNSName("scriptguard-webhook", "scriptguard-system"), notBefore, notAfter)
	if err != nil {
		t.Fatalf("IssueServingCert: %v", err)
	}

	if err := Verify(serving.CertPEM, ca.CertPEM, "other.example.test", time.Now()); err == nil {
		t.Fatal("expected Verify to reject a name the certificate does not cover")
	}
}

func TestVerifyRejectsForeignCA(t *testing.T) {
	notBefore := time.Now().Add(-time.Hour)
	notAfter := notBefore.Add(24 * time.Hour)

	ca, err := NewCA(notBefore, notAfter)
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}
	other, err := NewCA(notBefore, notAfter)
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}

	dnsName := ServiceDNSName("scriptguard-webhook", "scriptguard-system")
	serving, err := ca.IssueServingCert(dnsName, notBefore, notAfter)
	if err != nil {
		t.Fatalf("IssueServingCert: %v", err)
	}

	if err := Verify(serving.CertPEM, other.CertPEM, dnsName, time.Now()); err == nil {
		t.Fatal("expected Verify to reject a certificate from a different root")
	}
}
