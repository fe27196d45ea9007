package profile

import (
	"fmt"

	"go.mozilla.org/pkcs7"
)

// EnvelopeInfo describes the CMS envelope wrapping a provisioning profile.
// Parse ignores the envelope entirely; this is a diagnostic for the CLI
// info command.
type EnvelopeInfo struct {
	Signers []string
	Payload int
}

// Envelope parses the outer PKCS#7 structure of a .mobileprovision file and
// reports its signers. It does not verify the signature chain.
func Envelope(data []byte) (*EnvelopeInfo, error) {
	p7, err := pkcs7.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PKCS#7 envelope: %w", err)
	}
	info := &EnvelopeInfo{Payload: len(p7.Content)}
	for _, cert := range p7.Certificates {
		info.Signers = append(info.Signers, cert.Subject.CommonName)
	}
	return info, nil
}
