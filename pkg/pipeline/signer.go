package pipeline

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// SignJob describes one bundle for the external signer.
type SignJob struct {
	BundlePath       string
	CertificatePath  string
	ProfilePath      string
	EntitlementsPath string
	BundleID         string
}

// Signer is the external signing capability. The actual cryptographic
// re-signing is not implemented here; the certificate password reaches the
// signer out-of-band (its own configuration), never through the pipeline.
type Signer interface {
	SignBundle(ctx context.Context, job SignJob) error
}

// ExecSigner runs a configured command line, substituting job fields for
// the placeholders {bundle}, {cert}, {profile}, {entitlements} and
// {bundle_id}.
type ExecSigner struct {
	Command []string
}

func (s *ExecSigner) SignBundle(ctx context.Context, job SignJob) error {
	if len(s.Command) == 0 {
		return fmt.Errorf("no signer command configured")
	}
	replacer := strings.NewReplacer(
		"{bundle}", job.BundlePath,
		"{cert}", job.CertificatePath,
		"{profile}", job.ProfilePath,
		"{entitlements}", job.EntitlementsPath,
		"{bundle_id}", job.BundleID,
	)
	args := make([]string, len(s.Command))
	for i, arg := range s.Command {
		args[i] = replacer.Replace(arg)
	}

	zerolog.Ctx(ctx).Debug().Strs("command", args).Msg("invoking external signer")

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("signer command failed: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
