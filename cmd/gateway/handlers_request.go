package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"

	"github.com/crossknight/examples/pkg/httpx"
	"github.com/crossknight/examples/pkg/ndid"

	"github.com/google/uuid"
)

type createRequestForm struct {
	Mode                int                `json:"mode"`
	Namespace           string             `json:"namespace"`
	Identifier          string             `json:"identifier"`
	IdpIDList           []string           `json:"idp_id_list"`
	DataRequestList     []ndid.DataRequest `json:"data_request_list"`
	MinIdp              int                `json:"min_idp"`
	RequestTimeout      int                `json:"request_timeout"`
	BypassIdentityCheck bool               `json:"bypass_identity_check"`
}

// createRequest starts a verification request on behalf of the web client.
// The platform reports progress through the per-reference status callback
// URL passed along with the request.
func (s *Server) createRequest(w http.ResponseWriter, r *http.Request) {
	if s.RateLimitEnabled && s.RateLimiter != nil {
		decision := s.RateLimiter.Allow("create:"+clientIP(r), s.RateLimitPerMinute)
		if !decision.Allowed {
			httpx.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}
	var form createRequestForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		log.Printf("gateway: create request: %v", err)
		httpx.Error(w, 500, "malformed request")
		return
	}
	referenceID := uuid.NewString()
	params := ndid.CreateRequestParams{
		Mode:                form.Mode,
		Namespace:           form.Namespace,
		Identifier:          form.Identifier,
		ReferenceID:         referenceID,
		IdpIDList:           form.IdpIDList,
		CallbackURL:         s.CallbackBase + "/rp/request/" + referenceID,
		DataRequestList:     form.DataRequestList,
		RequestMessage:      consentMessage(referenceID),
		MinIal:              2.3,
		MinAal:              2.2,
		MinIdp:              form.MinIdp,
		RequestTimeout:      form.RequestTimeout,
		BypassIdentityCheck: form.BypassIdentityCheck,
	}
	if params.Mode == 0 {
		params.Mode = s.DefaultMode
	}
	if params.MinIdp == 0 {
		params.MinIdp = s.DefaultMinIdp
	}
	if params.RequestTimeout == 0 {
		params.RequestTimeout = s.DefaultRequestTimeout
	}
	if params.IdpIDList == nil {
		params.IdpIDList = []string{}
	}
	if params.DataRequestList == nil {
		params.DataRequestList = []ndid.DataRequest{}
	}
	result, err := s.NDID.CreateRequest(r.Context(), params)
	s.Metrics.IncUpstream("create_request", err == nil)
	if err != nil {
		log.Printf("gateway: create request: %v", err)
		httpx.Error(w, 500, err.Error())
		return
	}
	httpx.WriteJSON(w, 200, map[string]string{
		"requestId":   result.RequestID,
		"referenceId": referenceID,
	})
}

func consentMessage(referenceID string) string {
	return fmt.Sprintf("Would you like to give your consent to send your information to the requesting party? (REF: %s)", referenceID)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
