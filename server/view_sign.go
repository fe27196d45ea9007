package server

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/xalostore/signd/internal/httperror"
	"github.com/xalostore/signd/pkg/pipeline"
)

type signResponse struct {
	InstallManifestURL string `json:"installManifestUrl"`
	ManifestURL        string `json:"manifestUrl"`
	ArchiveURL         string `json:"archiveUrl"`
	BundleID           string `json:"bundleId"`
	Title              string `json:"title"`
	Version            string `json:"version"`
}

// serveSign spools the uploaded archive and runs the resign pipeline. The
// pipeline owns the spooled file from here on and removes it on every exit
// path.
func (s *Server) serveSign(req *http.Request) (interface{}, error) {
	if err := s.parseMultipart(req); err != nil {
		return nil, err
	}

	ownerKey := req.FormValue("ownerKey")
	if ownerKey == "" {
		return nil, httperror.New(http.StatusBadRequest, "missing-field", "ownerKey is required")
	}

	file, _, err := req.FormFile("ipa")
	if err != nil {
		return nil, httperror.New(http.StatusBadRequest, "missing-field", "ipa file is required")
	}
	defer file.Close()

	spool, err := os.CreateTemp(s.Config.UploadDir, "upload-*.ipa")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(spool, file); err != nil {
		spool.Close()
		os.Remove(spool.Name())
		return nil, httperror.New(http.StatusBadRequest, "bad-request", "failed to spool upload")
	}
	if err := spool.Close(); err != nil {
		os.Remove(spool.Name())
		return nil, err
	}

	start := time.Now()
	result, err := s.Pipeline.Resign(req.Context(), pipeline.SigningRequest{
		OwnerKey:    ownerKey,
		ArchivePath: spool.Name(),
	})
	if err != nil {
		signsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	signsTotal.WithLabelValues("success").Inc()
	signDuration.Observe(time.Since(start).Seconds())

	return &signResponse{
		InstallManifestURL: result.InstallLink,
		ManifestURL:        result.ManifestURL,
		ArchiveURL:         result.ArchiveURL,
		BundleID:           result.BundleID,
		Title:              result.Title,
		Version:            result.Version,
	}, nil
}
