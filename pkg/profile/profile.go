package profile

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"strings"
	"time"

	"howett.net/plist"
)

// Reason identifies why a provisioning profile failed to parse.
type Reason string

const (
	ReasonNoEmbeddedDocument Reason = "no-embedded-document"
	ReasonMissingField       Reason = "missing-field"
)

// ParseError is returned when a .mobileprovision file cannot be decoded
// into a usable ProvisioningProfile.
type ParseError struct {
	Reason Reason
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("provisioning profile: %s: %s", e.Reason, e.Detail)
}

// Markers delimiting the plist payload inside the CMS envelope of a
// .mobileprovision file. The surrounding signature bytes are treated as
// opaque; only the embedded plist is decoded.
var (
	plistStartMarker = []byte("<?xml")
	plistEndMarker   = []byte("</plist>")
)

// ProvisioningProfile represents a parsed .mobileprovision file
type ProvisioningProfile struct {
	Name                        string                 `plist:"Name"`
	TeamName                    string                 `plist:"TeamName"`
	TeamIdentifier              []string               `plist:"TeamIdentifier"`
	AppIDName                   string                 `plist:"AppIDName"`
	ApplicationIdentifierPrefix []string               `plist:"ApplicationIdentifierPrefix"`
	Entitlements                map[string]interface{} `plist:"Entitlements"`
	DeveloperCertificates       [][]byte               `plist:"DeveloperCertificates"`
	ProvisionedDevices          []string               `plist:"ProvisionedDevices"`
	ProvisionsAllDevices        bool                   `plist:"ProvisionsAllDevices"`
	CreationDate                time.Time              `plist:"CreationDate"`
	ExpirationDate              time.Time              `plist:"ExpirationDate"`
	UUID                        string                 `plist:"UUID"`
	Platform                    []string               `plist:"Platform"`
}

// Parse decodes a .mobileprovision file. The file is a CMS (PKCS#7) signed
// container with a plist payload; the payload is located by marker search so
// that the envelope does not need to be verified or even well-formed.
func Parse(data []byte) (*ProvisioningProfile, error) {
	block, err := embeddedPlist(data)
	if err != nil {
		return nil, err
	}

	var profile ProvisioningProfile
	if _, err := plist.Unmarshal(block, &profile); err != nil {
		return nil, &ParseError{
			Reason: ReasonNoEmbeddedDocument,
			Detail: fmt.Sprintf("embedded plist did not decode: %v", err),
		}
	}

	if profile.TeamID() == "" {
		return nil, &ParseError{
			Reason: ReasonMissingField,
			Detail: "profile has no TeamIdentifier",
		}
	}
	appID := profile.ApplicationIdentifier()
	if appID == "" {
		return nil, &ParseError{
			Reason: ReasonMissingField,
			Detail: "profile entitlements have no application-identifier",
		}
	}
	if len(strings.Split(appID, ".")) < 2 {
		return nil, &ParseError{
			Reason: ReasonMissingField,
			Detail: fmt.Sprintf("application-identifier %q must contain a team prefix and a bundle id", appID),
		}
	}

	return &profile, nil
}

// embeddedPlist locates the plist payload between the XML start marker and
// the closing plist tag.
func embeddedPlist(data []byte) ([]byte, error) {
	start := bytes.Index(data, plistStartMarker)
	if start < 0 {
		return nil, &ParseError{
			Reason: ReasonNoEmbeddedDocument,
			Detail: "no plist start marker found",
		}
	}
	end := bytes.LastIndex(data, plistEndMarker)
	if end < start {
		return nil, &ParseError{
			Reason: ReasonNoEmbeddedDocument,
			Detail: "no plist end marker found",
		}
	}
	return data[start : end+len(plistEndMarker)], nil
}

// TeamID returns the team identifier from the profile
func (p *ProvisioningProfile) TeamID() string {
	if len(p.TeamIdentifier) > 0 {
		return p.TeamIdentifier[0]
	}
	if len(p.ApplicationIdentifierPrefix) > 0 {
		return p.ApplicationIdentifierPrefix[0]
	}
	return ""
}

// ApplicationIdentifier returns the application identifier from entitlements
func (p *ProvisioningProfile) ApplicationIdentifier() string {
	if appID, ok := p.Entitlements["application-identifier"].(string); ok {
		return appID
	}
	return ""
}

// IsExpired checks if the provisioning profile has expired
func (p *ProvisioningProfile) IsExpired() bool {
	return time.Now().After(p.ExpirationDate)
}

// EntitlementsXML renders the profile's entitlements as an XML plist, the
// form consumed by external signing tools.
func (p *ProvisioningProfile) EntitlementsXML() ([]byte, error) {
	if p.Entitlements == nil {
		return nil, fmt.Errorf("provisioning profile has no entitlements")
	}
	data, err := plist.MarshalIndent(p.Entitlements, plist.XMLFormat, "\t")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entitlements: %w", err)
	}
	return data, nil
}

// Certificates parses and returns the developer certificates from the profile
func (p *ProvisioningProfile) Certificates() ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for i, certData := range p.DeveloperCertificates {
		cert, err := x509.ParseCertificate(certData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate %d: %w", i, err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// ContainsCertificate checks if the given certificate is one of the
// profile's developer certificates.
func (p *ProvisioningProfile) ContainsCertificate(cert *x509.Certificate) bool {
	for _, certData := range p.DeveloperCertificates {
		profileCert, err := x509.ParseCertificate(certData)
		if err != nil {
			continue
		}
		if cert.Equal(profileCert) {
			return true
		}
	}
	return false
}
