package httperror

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xalostore/signd/pkg/credential"
	"github.com/xalostore/signd/pkg/pipeline"
	"github.com/xalostore/signd/pkg/profile"
)

// Problem is the JSON error body every failed request returns: a
// machine-checkable reason code plus a human-readable detail.
type Problem struct {
	HTTPStatus int    `json:"-"`
	Status     string `json:"status"`
	Reason     string `json:"reason"`
	Detail     string `json:"detail,omitempty"`
}

func (p *Problem) Error() string {
	return p.Reason + ": " + p.Detail
}

func (p *Problem) ServeHTTP(rw http.ResponseWriter, _ *http.Request) {
	blob, _ := json.Marshal(p)
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(p.HTTPStatus)
	_, _ = rw.Write(blob)
}

// New builds a Problem directly.
func New(status int, reason, detail string) *Problem {
	return &Problem{HTTPStatus: status, Status: "error", Reason: reason, Detail: detail}
}

// FromError maps the error taxonomy onto HTTP problems. Parse and
// validation failures are client errors; pipeline failures depend on the
// stage that failed.
func FromError(err error) *Problem {
	var credErr *credential.ParseError
	if errors.As(err, &credErr) {
		return New(http.StatusUnprocessableEntity, "certificate-"+string(credErr.Reason), credErr.Detail)
	}
	var profErr *profile.ParseError
	if errors.As(err, &profErr) {
		return New(http.StatusUnprocessableEntity, "profile-"+string(profErr.Reason), profErr.Detail)
	}
	var valErr *credential.ValidationError
	if errors.As(err, &valErr) {
		return New(http.StatusUnprocessableEntity, string(valErr.Reason), valErr.Detail)
	}
	var signErr *pipeline.SignError
	if errors.As(err, &signErr) {
		status := http.StatusInternalServerError
		switch signErr.Reason {
		case pipeline.ReasonNoCredential:
			status = http.StatusNotFound
		case pipeline.ReasonCredentialExpired, pipeline.ReasonBadArchive:
			status = http.StatusUnprocessableEntity
		}
		return New(status, string(signErr.Reason), signErr.Detail)
	}
	return New(http.StatusInternalServerError, "internal", err.Error())
}
