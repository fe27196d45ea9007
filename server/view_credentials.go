package server

import (
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/xalostore/signd/internal/httperror"
	"github.com/xalostore/signd/pkg/credential"
	"github.com/xalostore/signd/pkg/profile"
	"github.com/xalostore/signd/pkg/store"
)

type uploadResponse struct {
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expiresAt"`
	BundleID  string    `json:"bundleId"`
}

// serveUploadCredential accepts a certificate/profile pair, validates the
// binding and stores the result. The password is used for the parse only
// and is never stored or logged.
func (s *Server) serveUploadCredential(req *http.Request) (interface{}, error) {
	if err := s.parseMultipart(req); err != nil {
		return nil, err
	}

	ownerKey := req.FormValue("ownerKey")
	password := req.FormValue("password")
	if ownerKey == "" {
		return nil, httperror.New(http.StatusBadRequest, "missing-field", "ownerKey is required")
	}

	certBytes, err := formFileBytes(req, "cert")
	if err != nil {
		return nil, err
	}
	profileBytes, err := formFileBytes(req, "profile")
	if err != nil {
		return nil, err
	}

	certInfo, err := credential.Parse(certBytes, password)
	if err != nil {
		return nil, err
	}
	prof, err := profile.Parse(profileBytes)
	if err != nil {
		return nil, err
	}

	bundleID, err := credential.Validate(certInfo, prof, time.Now())
	if err != nil {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if !prof.ContainsCertificate(certInfo.Certificate) {
		zerolog.Ctx(req.Context()).Warn().
			Str("owner", ownerKey).
			Msg("uploaded certificate is not among the profile's developer certificates")
	}

	rec, err := s.Store.Put(ownerKey, certBytes, profileBytes, store.Record{
		TeamID:          certInfo.OrganizationID,
		DerivedBundleID: bundleID,
		ExpiresAt:       certInfo.NotAfter,
		UploadedAt:      time.Now(),
	})
	if err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	uploadsTotal.WithLabelValues("accepted").Inc()
	zerolog.Ctx(req.Context()).Info().
		Str("owner", ownerKey).
		Str("bundle_id", rec.DerivedBundleID).
		Time("expires_at", rec.ExpiresAt).
		Msg("credential stored")

	return &uploadResponse{
		Status:    "success",
		ExpiresAt: rec.ExpiresAt,
		BundleID:  rec.DerivedBundleID,
	}, nil
}

func (s *Server) parseMultipart(req *http.Request) error {
	limit := s.Config.Server.MaxUploadSize << 20
	req.Body = http.MaxBytesReader(nil, req.Body, limit)
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		return httperror.New(http.StatusBadRequest, "bad-request", "invalid multipart body")
	}
	return nil
}

func formFileBytes(req *http.Request, field string) ([]byte, error) {
	file, _, err := req.FormFile(field)
	if err != nil {
		return nil, httperror.New(http.StatusBadRequest, "missing-field", field+" file is required")
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, httperror.New(http.StatusBadRequest, "bad-request", "failed to read "+field)
	}
	return data, nil
}
