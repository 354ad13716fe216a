package platform

import (
	"context"
	"crypto/sha256"
	"fmt"
)

// StubCertificateAuthority is a placeholder CertificateAuthority used by
// the demo wiring in cmd/adapter when no real CA backend is configured; it
// never fails, so it exercises the Certificate Management Object's happy
// path without a real crypto dependency.
type StubCertificateAuthority struct{}

func (StubCertificateAuthority) GenerateCSR(_ context.Context, subject string, _ []string) ([]byte, error) {
	sum := sha256.Sum256([]byte(subject))
	return []byte(fmt.Sprintf("CSR:%x", sum)), nil
}

func (StubCertificateAuthority) VerifyCertificate(_ context.Context, cert []byte) (bool, error) {
	return len(cert) > 0, nil
}
