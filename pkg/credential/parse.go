package credential

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"time"

	gop12 "software.sslmate.com/src/go-pkcs12"
)

// Reason identifies why a certificate container failed to parse.
type Reason string

const (
	ReasonMalformed       Reason = "malformed"
	ReasonMissingIdentity Reason = "missing-identity"
)

// ParseError is returned when a P12 container cannot be decoded or does not
// carry a usable signing identity.
type ParseError struct {
	Reason Reason
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("certificate container: %s: %s", e.Reason, e.Detail)
}

// CertificateInfo is the result of decoding a P12 container. Certificate,
// CAChain and PrivateKey together form the signing identity handle that is
// handed to the external signer; none of them are ever serialized.
type CertificateInfo struct {
	NotAfter       time.Time
	OrganizationID string

	Certificate *x509.Certificate
	CAChain     []*x509.Certificate
	PrivateKey  crypto.PrivateKey
}

// oidUID is the X.500 userId attribute, which Apple developer certificates
// carry in the subject alongside OU and O.
var oidUID = []int{0, 9, 2342, 19200300, 100, 1, 1}

// identitySelectors is the ordered fallback chain for extracting the team
// identity from a certificate subject: OU, then UID, then O. The first
// non-empty value wins.
var identitySelectors = []func(pkix.Name) string{
	func(n pkix.Name) string {
		if len(n.OrganizationalUnit) > 0 {
			return n.OrganizationalUnit[0]
		}
		return ""
	},
	func(n pkix.Name) string {
		for _, attr := range n.Names {
			if attr.Type.Equal(oidUID) {
				if s, ok := attr.Value.(string); ok {
					return s
				}
			}
		}
		return ""
	},
	func(n pkix.Name) string {
		if len(n.Organization) > 0 {
			return n.Organization[0]
		}
		return ""
	},
}

// Parse decodes a password-protected P12 container and extracts the leaf
// certificate's expiry and organization identity. The password is used only
// for the decode and is not retained.
func Parse(containerBytes []byte, password string) (*CertificateInfo, error) {
	privateKey, cert, caCerts, err := gop12.DecodeChain(containerBytes, password)
	if err != nil {
		return nil, &ParseError{
			Reason: ReasonMalformed,
			Detail: fmt.Sprintf("failed to decode P12: %v", err),
		}
	}

	orgID := ""
	for _, sel := range identitySelectors {
		if v := sel(cert.Subject); v != "" {
			orgID = v
			break
		}
	}
	if orgID == "" {
		return nil, &ParseError{
			Reason: ReasonMissingIdentity,
			Detail: "certificate subject has no OU, UID or O field",
		}
	}

	return &CertificateInfo{
		NotAfter:       cert.NotAfter,
		OrganizationID: orgID,
		Certificate:    cert,
		CAChain:        caCerts,
		PrivateKey:     privateKey,
	}, nil
}
