package handlers

import (
	"net/http"

	httpx "github.com/tmstack/trustplane/internal/http"
	"github.com/tmstack/trustplane/internal/http/errors"
	"github.com/tmstack/trustplane/internal/observability/logger"
	"github.com/tmstack/trustplane/internal/token"
)

type issueRequest struct {
	Aud string `json:"aud"`
	Sub string `json:"sub"`
}

type issueResponse struct {
	Token string `json:"token"`
}

// IssueToken mints a short-lived service token. The shared-secret check runs
// in middleware before this handler sees the request.
func IssueToken(issuer *token.Issuer, defaultAud, defaultSub string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req issueRequest
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		if req.Aud == "" {
			req.Aud = defaultAud
		}
		if req.Sub == "" {
			req.Sub = defaultSub
		}

		signed, err := issuer.Issue(r.Context(), req.Aud, req.Sub)
		if err != nil {
			logger.From(r.Context()).Error("token issuance failed",
				logger.Audience(req.Aud),
				logger.Subject(req.Sub),
				logger.Err(err),
			)
			errors.WriteError(w, errors.ErrServiceUnavailable)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, issueResponse{Token: signed})
	})
}
