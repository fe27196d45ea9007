package credential

import (
	"fmt"
	"strings"
	"time"

	"github.com/xalostore/signd/pkg/profile"
)

// ValidationReason identifies why a certificate/profile pair was rejected.
type ValidationReason string

const (
	ReasonExpired             ValidationReason = "expired"
	ReasonTeamMismatch        ValidationReason = "team-mismatch"
	ReasonMalformedIdentifier ValidationReason = "malformed-identifier"
)

// ValidationError is returned when a certificate and provisioning profile
// cannot be bound into a credential pair.
type ValidationError struct {
	Reason    ValidationReason
	CertID    string
	ProfileID string
	Detail    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("credential validation: %s: %s", e.Reason, e.Detail)
}

// Validate cross-checks a parsed certificate against a parsed provisioning
// profile and derives the bundle identifier. Checks run in order and the
// first failure wins: expiry is user-fixable immediately, a team mismatch
// needs re-issued credentials.
func Validate(cert *CertificateInfo, prof *profile.ProvisioningProfile, now time.Time) (string, error) {
	if now.After(cert.NotAfter) {
		return "", &ValidationError{
			Reason: ReasonExpired,
			CertID: cert.OrganizationID,
			Detail: fmt.Sprintf("certificate expired %s", cert.NotAfter.Format(time.RFC3339)),
		}
	}

	teamID := prof.TeamID()
	if cert.OrganizationID != teamID {
		return "", &ValidationError{
			Reason:    ReasonTeamMismatch,
			CertID:    cert.OrganizationID,
			ProfileID: teamID,
			Detail:    fmt.Sprintf("certificate team %q does not match profile team %q", cert.OrganizationID, teamID),
		}
	}

	segments := strings.Split(prof.ApplicationIdentifier(), ".")
	if len(segments) < 2 {
		return "", &ValidationError{
			Reason:    ReasonMalformedIdentifier,
			CertID:    cert.OrganizationID,
			ProfileID: teamID,
			Detail:    fmt.Sprintf("application identifier %q has no bundle id after the team prefix", prof.ApplicationIdentifier()),
		}
	}

	return strings.Join(segments[1:], "."), nil
}
