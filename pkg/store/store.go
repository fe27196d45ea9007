package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/peterbourgon/diskv"

	"github.com/xalostore/signd/internal/atomicfile"
)

// ErrNotFound is returned by Get when no credential exists for the owner key.
var ErrNotFound = errors.New("credential not found")

// Record is the persisted result of a successful credential upload. The
// certificate password is deliberately absent: it is only needed by the
// external signer, which receives it out-of-band.
type Record struct {
	OwnerKey        string    `json:"owner_key"`
	CertificatePath string    `json:"certificate_path"`
	ProfilePath     string    `json:"profile_path"`
	TeamID          string    `json:"team_id"`
	DerivedBundleID string    `json:"derived_bundle_id"`
	ExpiresAt       time.Time `json:"expires_at"`
	UploadedAt      time.Time `json:"uploaded_at"`
}

var validOwnerKey = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Store is a durable keyed mapping from owner key to credential record. It
// exclusively owns the canonical certificate and profile files once a pair
// is accepted. All methods are safe for concurrent use; record writes go
// through a temp file and rename so readers see either the old record or
// the new one, never a mix.
type Store struct {
	root string
	kv   *diskv.Diskv
}

// Open creates the store layout under root.
func Open(root string) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, "records"), filepath.Join(root, "files"), filepath.Join(root, "tmp")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	kv := diskv.New(diskv.Options{
		BasePath:     filepath.Join(root, "records"),
		TempDir:      filepath.Join(root, "tmp"),
		Transform:    func(string) []string { return nil },
		CacheSizeMax: 1 << 20,
	})
	return &Store{root: root, kv: kv}, nil
}

// Put stores the certificate and profile bytes under a fresh per-upload
// directory and then swaps the owner's record to point at them. The record
// write is the single commit point: a failure before it leaves the store
// unchanged, and a record fetched earlier keeps serving the files it names.
// Superseded upload directories are removed after the swap.
func (s *Store) Put(ownerKey string, certBytes, profileBytes []byte, rec Record) (Record, error) {
	if !validOwnerKey.MatchString(ownerKey) {
		return Record{}, fmt.Errorf("invalid owner key %q", ownerKey)
	}

	ownerDir := filepath.Join(s.root, "files", ownerKey)
	uploadID := uuid.NewString()
	uploadDir := filepath.Join(ownerDir, uploadID)
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return Record{}, fmt.Errorf("failed to create upload directory: %w", err)
	}

	certPath := filepath.Join(uploadDir, "certificate.p12")
	if err := atomicfile.WriteFile(certPath, certBytes, 0600); err != nil {
		os.RemoveAll(uploadDir)
		return Record{}, fmt.Errorf("failed to write certificate: %w", err)
	}
	profilePath := filepath.Join(uploadDir, "profile.mobileprovision")
	if err := atomicfile.WriteFile(profilePath, profileBytes, 0600); err != nil {
		os.RemoveAll(uploadDir)
		return Record{}, fmt.Errorf("failed to write profile: %w", err)
	}

	rec.OwnerKey = ownerKey
	rec.CertificatePath = certPath
	rec.ProfilePath = profilePath

	blob, err := json.Marshal(rec)
	if err != nil {
		os.RemoveAll(uploadDir)
		return Record{}, fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := s.kv.Write(ownerKey, blob); err != nil {
		os.RemoveAll(uploadDir)
		return Record{}, fmt.Errorf("failed to write record: %w", err)
	}

	if entries, err := os.ReadDir(ownerDir); err == nil {
		for _, entry := range entries {
			if entry.Name() != uploadID {
				os.RemoveAll(filepath.Join(ownerDir, entry.Name()))
			}
		}
	}
	return rec, nil
}

// Get returns the stored record for an owner key. Expired records are still
// returned; staleness is the caller's problem to detect.
func (s *Store) Get(ownerKey string) (Record, error) {
	if !validOwnerKey.MatchString(ownerKey) {
		return Record{}, ErrNotFound
	}
	blob, err := s.kv.Read(ownerKey)
	if err != nil {
		return Record{}, ErrNotFound
	}
	var rec Record
	if err := json.Unmarshal(blob, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to decode record for %q: %w", ownerKey, err)
	}
	return rec, nil
}
