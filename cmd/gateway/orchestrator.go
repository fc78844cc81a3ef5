package main

import (
	"context"
	"encoding/json"
	"log"

	"github.com/crossknight/examples/pkg/callback"
	"github.com/crossknight/examples/pkg/ndid"

	"github.com/google/uuid"
)

// handleCallbackEvent is the lifecycle orchestrator's bus subscription. The
// decision rules are self-contained in each event's payload: the platform
// sends a full snapshot per callback, so no per-request state is kept here.
func (s *Server) handleCallbackEvent(evt callback.Event) {
	switch evt.Kind {
	case callback.KindRequestStatus:
		s.handleRequestStatus(evt)
	case callback.KindCreateRequestResult:
		log.Printf("gateway: create request result: %s", evt.Payload)
	case callback.KindCloseRequestResult:
		var result callback.CloseRequestResult
		if err := json.Unmarshal(evt.Payload, &result); err != nil {
			log.Printf("gateway: close request result: %v", err)
			return
		}
		if result.Success {
			log.Printf("gateway: successfully closed request %s", result.RequestID)
		} else {
			log.Printf("gateway: failed to close request %s", result.RequestID)
		}
	case callback.KindError:
		// Async error reporting from request creation. There is no
		// automated recovery yet; the event still reaches the realtime
		// client through the relay.
		log.Printf("gateway: error callback (unhandled): %s", evt.Payload)
	case callback.KindUnknown:
		log.Printf("gateway: unknown callback type, dropping: %s", evt.Payload)
	}
}

func (s *Server) handleRequestStatus(evt callback.Event) {
	var status callback.RequestStatus
	if err := json.Unmarshal(evt.Payload, &status); err != nil {
		log.Printf("gateway: request status: %v", err)
		return
	}
	if !status.Accepted() {
		return
	}
	switch {
	case status.Status == callback.StatusCompleted && len(status.ServiceList) > 0:
		// Fire and forget: the webhook response has long been written, a
		// fetch failure is logged and counted, never retried.
		go s.fetchDataFromAS(context.Background(), status.ReferenceID, status.RequestID)
	case status.Status == callback.StatusRejected && status.AnsweredIdpCount == status.MinIdp:
		go s.closeRequest(context.Background(), status.RequestID)
	}
}

func (s *Server) fetchDataFromAS(ctx context.Context, referenceID, requestID string) {
	data, err := s.NDID.GetDataFromAS(ctx, requestID)
	s.Metrics.IncUpstream("get_data_from_as", err == nil)
	if err != nil {
		log.Printf("gateway: get data from AS for request %s: %v", requestID, err)
		return
	}
	sent := s.Relay.Send(ctx, "dataFromAS", map[string]interface{}{
		"referenceId": referenceID,
		"requestId":   requestID,
		"dataFromAS":  data,
	})
	s.countRelay(sent)
}

func (s *Server) closeRequest(ctx context.Context, requestID string) {
	err := s.NDID.CloseRequest(ctx, ndid.CloseRequestParams{
		ReferenceID: uuid.NewString(),
		CallbackURL: s.CallbackBase + "/rp/request/close",
		RequestID:   requestID,
	})
	s.Metrics.IncUpstream("close_request", err == nil)
	if err != nil {
		log.Printf("gateway: close request %s: %v", requestID, err)
	}
}
