package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/crossknight/examples/pkg/accessor"
	"github.com/crossknight/examples/pkg/callback"
	"github.com/crossknight/examples/pkg/httpx"
)

// fixedKindCallback ingests webhooks from an endpoint that receives a single
// callback category. The response never waits for downstream processing.
func (s *Server) fixedKindCallback(kind callback.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := s.readCallbackBody(w, r)
		if !ok {
			return
		}
		evt, err := callback.New(kind, body)
		if err != nil {
			log.Printf("gateway: %s callback: %v", kind, err)
			httpx.Error(w, 500, "malformed callback payload")
			return
		}
		s.publishCallback(evt)
		w.WriteHeader(http.StatusNoContent)
	}
}

// classifiedCallback ingests webhooks whose category comes from the
// payload's "type" field (request status, close result, async errors).
func (s *Server) classifiedCallback(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readCallbackBody(w, r)
	if !ok {
		return
	}
	evt, err := callback.Classify(body)
	if err != nil {
		log.Printf("gateway: status callback: %v", err)
		httpx.Error(w, 500, "malformed callback payload")
		return
	}
	s.publishCallback(evt)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) publishCallback(evt callback.Event) {
	log.Printf("gateway: received %s callback: %s", evt.Kind, evt.Payload)
	s.Metrics.IncCallback(string(evt.Kind))
	s.Bus.Publish(evt)
}

func (s *Server) readCallbackBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("gateway: read callback body: %v", err)
		httpx.Error(w, 500, "failed to read callback body")
		return nil, false
	}
	return body, true
}

// accessorEncrypt is the synchronous signing endpoint: the platform sends a
// padded challenge hash and expects it signed with the accessor's key.
func (s *Server) accessorEncrypt(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readCallbackBody(w, r)
	if !ok {
		return
	}
	var req struct {
		AccessorID               string `json:"accessor_id"`
		RequestMessagePaddedHash string `json:"request_message_padded_hash"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		log.Printf("gateway: accessor encrypt: %v", err)
		httpx.Error(w, 500, "malformed request")
		return
	}
	key, err := s.Accessors.Key(r.Context(), req.AccessorID)
	if err != nil {
		log.Printf("gateway: accessor encrypt: %v", err)
		httpx.Error(w, 500, "accessor key lookup failed")
		return
	}
	signature, err := accessor.ResponseSignature(key, req.RequestMessagePaddedHash)
	if err != nil {
		log.Printf("gateway: accessor encrypt: %v", err)
		httpx.Error(w, 500, "signing failed")
		return
	}
	httpx.WriteJSON(w, 200, map[string]string{"signature": signature})
}
