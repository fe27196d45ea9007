package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blacktop/go-macho"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/xalostore/signd/internal/atomicfile"
	"github.com/xalostore/signd/pkg/ipa"
	"github.com/xalostore/signd/pkg/manifest"
	"github.com/xalostore/signd/pkg/profile"
	"github.com/xalostore/signd/pkg/store"
)

// Reason identifies why a sign request failed.
type Reason string

const (
	ReasonNoCredential      Reason = "no-credential"
	ReasonCredentialExpired Reason = "credential-expired"
	ReasonBadArchive        Reason = "bad-archive"
	ReasonSigningFailed     Reason = "signing-failed"
)

// SignError is the terminal error of a sign request. Requests are never
// retried automatically; re-signing has external side effects, so retry is
// a caller decision.
type SignError struct {
	Reason Reason
	Detail string
	Err    error
}

func (e *SignError) Error() string {
	return fmt.Sprintf("sign request: %s: %s", e.Reason, e.Detail)
}

func (e *SignError) Unwrap() error { return e.Err }

// SigningRequest pairs an uploaded archive with an owner key. The pipeline
// consumes the archive file: it is deleted on every exit path.
type SigningRequest struct {
	OwnerKey    string
	ArchivePath string
}

// Result describes a published signed archive.
type Result struct {
	ArchiveURL  string
	ManifestURL string
	InstallLink string
	BundleID    string
	Title       string
	Version     string
}

// Pipeline re-signs uploaded archives against stored credentials. Each
// request gets its own scratch workspace, so concurrent requests, including
// requests for the same owner, never interfere.
type Pipeline struct {
	Store       *store.Store
	Signer      Signer
	WorkRoot    string
	PublishDir  string
	BaseURL     string
	SignTimeout time.Duration

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Resign runs the linear pipeline: fetch credential, re-check expiry,
// unpack, inject profile, invoke the external signer, repack, publish the
// manifest. Cleanup of the scratch workspace and the uploaded archive is
// not cancellable and runs on every exit path.
func (p *Pipeline) Resign(ctx context.Context, req SigningRequest) (*Result, error) {
	logger := zerolog.Ctx(ctx).With().Str("owner", req.OwnerKey).Logger()

	defer func() {
		if err := os.Remove(req.ArchivePath); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Msg("failed to remove uploaded archive")
		}
	}()

	rec, err := p.Store.Get(req.OwnerKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &SignError{
			Reason: ReasonNoCredential,
			Detail: fmt.Sprintf("no credential stored for owner %q", req.OwnerKey),
			Err:    err,
		}
	}
	if err != nil {
		return nil, &SignError{Reason: ReasonSigningFailed, Detail: "credential store read failed", Err: err}
	}

	// Credentials age between upload and use; re-check before touching the
	// archive at all.
	if now := p.now(); now.After(rec.ExpiresAt) {
		return nil, &SignError{
			Reason: ReasonCredentialExpired,
			Detail: fmt.Sprintf("credential expired %s", rec.ExpiresAt.Format(time.RFC3339)),
		}
	}

	jobID := uuid.NewString()
	workDir := filepath.Join(p.WorkRoot, jobID)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, &SignError{Reason: ReasonSigningFailed, Detail: "failed to create workspace", Err: err}
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn().Err(err).Str("workspace", workDir).Msg("failed to remove workspace")
		}
	}()

	logger = logger.With().Str("job", jobID).Logger()

	scratch := filepath.Join(workDir, "bundle")
	if err := ipa.Extract(req.ArchivePath, scratch); err != nil {
		return nil, &SignError{Reason: ReasonBadArchive, Detail: "archive did not extract", Err: err}
	}
	appPath, err := ipa.FindAppBundle(scratch)
	if err != nil {
		return nil, &SignError{Reason: ReasonBadArchive, Detail: "no app bundle in archive", Err: err}
	}

	profBytes, err := os.ReadFile(rec.ProfilePath)
	if err != nil {
		return nil, &SignError{Reason: ReasonSigningFailed, Detail: "stored profile unreadable", Err: err}
	}
	if err := os.WriteFile(filepath.Join(appPath, "embedded.mobileprovision"), profBytes, 0644); err != nil {
		return nil, &SignError{Reason: ReasonSigningFailed, Detail: "failed to inject profile", Err: err}
	}

	prof, err := profile.Parse(profBytes)
	if err != nil {
		return nil, &SignError{Reason: ReasonSigningFailed, Detail: "stored profile did not parse", Err: err}
	}
	entitlementsXML, err := prof.EntitlementsXML()
	if err != nil {
		return nil, &SignError{Reason: ReasonSigningFailed, Detail: "failed to render entitlements", Err: err}
	}
	entitlementsPath := filepath.Join(workDir, "entitlements.plist")
	if err := os.WriteFile(entitlementsPath, entitlementsXML, 0644); err != nil {
		return nil, &SignError{Reason: ReasonSigningFailed, Detail: "failed to write entitlements", Err: err}
	}

	info, err := ipa.ReadInfo(appPath)
	if err != nil {
		return nil, &SignError{Reason: ReasonBadArchive, Detail: "bundle Info.plist unreadable", Err: err}
	}
	if err := checkExecutable(filepath.Join(appPath, info.Executable)); err != nil {
		return nil, &SignError{Reason: ReasonBadArchive, Detail: "main executable is not signable", Err: err}
	}

	logger.Info().Str("bundle_id", rec.DerivedBundleID).Str("app", info.Title()).Msg("signing bundle")

	signCtx := ctx
	if p.SignTimeout > 0 {
		var cancel context.CancelFunc
		signCtx, cancel = context.WithTimeout(ctx, p.SignTimeout)
		defer cancel()
	}
	if err := p.Signer.SignBundle(signCtx, SignJob{
		BundlePath:       appPath,
		CertificatePath:  rec.CertificatePath,
		ProfilePath:      rec.ProfilePath,
		EntitlementsPath: entitlementsPath,
		BundleID:         rec.DerivedBundleID,
	}); err != nil {
		detail := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			detail = "timeout"
		}
		return nil, &SignError{Reason: ReasonSigningFailed, Detail: detail, Err: err}
	}

	archiveName := jobID + ".ipa"
	manifestName := jobID + ".plist"
	staged := filepath.Join(p.PublishDir, "."+archiveName+".tmp")
	if err := ipa.Repackage(scratch, staged); err != nil {
		os.Remove(staged)
		return nil, &SignError{Reason: ReasonSigningFailed, Detail: "failed to repackage archive", Err: err}
	}

	archiveURL := p.publishURL(archiveName)
	manifestURL := p.publishURL(manifestName)
	m := manifest.New(archiveURL, rec.DerivedBundleID, info.MarketingVersion(), info.Title())
	blob, err := m.Marshal()
	if err != nil {
		os.Remove(staged)
		return nil, &SignError{Reason: ReasonSigningFailed, Detail: "failed to build manifest", Err: err}
	}

	archivePath := filepath.Join(p.PublishDir, archiveName)
	if err := os.Rename(staged, archivePath); err != nil {
		os.Remove(staged)
		return nil, &SignError{Reason: ReasonSigningFailed, Detail: "failed to publish archive", Err: err}
	}
	if err := atomicfile.WriteFile(filepath.Join(p.PublishDir, manifestName), blob, 0644); err != nil {
		// an archive without its manifest is unreachable; unpublish it
		os.Remove(archivePath)
		return nil, &SignError{Reason: ReasonSigningFailed, Detail: "failed to publish manifest", Err: err}
	}

	logger.Info().Str("archive", archiveName).Msg("published signed archive")

	return &Result{
		ArchiveURL:  archiveURL,
		ManifestURL: manifestURL,
		InstallLink: manifest.InstallLink(manifestURL),
		BundleID:    rec.DerivedBundleID,
		Title:       info.Title(),
		Version:     info.MarketingVersion(),
	}, nil
}

func (p *Pipeline) publishURL(name string) string {
	return strings.TrimSuffix(p.BaseURL, "/") + "/signed/" + name
}

// checkExecutable verifies the bundle's main executable is a Mach-O (thin
// or fat) before handing it to the signer.
func checkExecutable(path string) error {
	m, err := macho.Open(path)
	if err == nil {
		return m.Close()
	}
	fat, fatErr := macho.OpenFat(path)
	if fatErr == nil {
		return fat.Close()
	}
	return fmt.Errorf("not a Mach-O executable: %w", err)
}
