package callback

import (
	"encoding/json"
	"errors"
	"time"
)

// Kind identifies the callback category an event was received as. For
// endpoints that receive a single category the kind is fixed by the route;
// for the request status endpoints it comes from the payload's "type" field.
type Kind string

const (
	KindIncomingRequest     Kind = "incoming_request"
	KindIdentityCreated     Kind = "identity_created"
	KindAccessorAdded       Kind = "accessor_added"
	KindCreateRequestResult Kind = "create_request_result"
	KindRequestStatus       Kind = "request_status"
	KindCloseRequestResult  Kind = "close_request_result"
	KindError               Kind = "error"
	KindUnknown             Kind = "unknown"
)

// Request status values reported by the platform.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusRejected  = "rejected"
)

var ErrMalformedPayload = errors.New("callback: malformed payload")

// Event is one callback received from the platform. Immutable once built.
type Event struct {
	Kind       Kind            `json:"kind"`
	ReceivedAt time.Time       `json:"received_at"`
	Payload    json.RawMessage `json:"payload"`
}

// New builds an event with a fixed kind. The payload must be a JSON object.
func New(kind Kind, payload []byte) (Event, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil || probe == nil {
		return Event{}, ErrMalformedPayload
	}
	return Event{
		Kind:       kind,
		ReceivedAt: time.Now().UTC(),
		Payload:    append(json.RawMessage(nil), payload...),
	}, nil
}

// Classify builds an event whose kind is taken from the payload's "type"
// field. Unrecognized types map to KindUnknown rather than an error so the
// ingress can acknowledge the delivery and leave the drop decision to
// consumers.
func Classify(payload []byte) (Event, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return Event{}, ErrMalformedPayload
	}
	kind := KindUnknown
	switch probe.Type {
	case "request_status":
		kind = KindRequestStatus
	case "create_request_result":
		kind = KindCreateRequestResult
	case "close_request_result":
		kind = KindCloseRequestResult
	case "error":
		kind = KindError
	}
	return New(kind, payload)
}

// ResponseValid is the platform's validation verdict for one answering IdP.
// Absent or null flags count as failed validation. The idp id is kept raw:
// the platform sends numbers or node-id strings and the decision rule never
// reads it.
type ResponseValid struct {
	IdpID          json.RawMessage `json:"idp_id"`
	ValidSignature bool            `json:"valid_signature"`
	ValidIal       bool            `json:"valid_ial"`
}

// Service describes one data service attached to a request.
type Service struct {
	ServiceID         string `json:"service_id"`
	MinAs             int    `json:"min_as"`
	SignedDataCount   int    `json:"signed_data_count"`
	ReceivedDataCount int    `json:"received_data_count"`
}

// RequestStatus is the payload of a request_status callback. It is the only
// payload the orchestrator inspects; each event carries a full snapshot so no
// cross-event state is needed.
type RequestStatus struct {
	Type              string          `json:"type"`
	RequestID         string          `json:"request_id"`
	ReferenceID       string          `json:"reference_id"`
	Mode              int             `json:"mode"`
	Status            string          `json:"status"`
	MinIdp            int             `json:"min_idp"`
	AnsweredIdpCount  int             `json:"answered_idp_count"`
	ResponseValidList []ResponseValid `json:"response_valid_list"`
	ServiceList       []Service       `json:"service_list"`
}

// Accepted reports whether the responses collected so far pass the mode's
// validation rules. Mode 1 requests skip signature and IAL validation; modes
// 2 and 3 require every answering IdP to have both flags set.
func (p RequestStatus) Accepted() bool {
	if p.Mode == 1 {
		return true
	}
	if p.Mode != 2 && p.Mode != 3 {
		return false
	}
	for _, rv := range p.ResponseValidList {
		if !rv.ValidSignature || !rv.ValidIal {
			return false
		}
	}
	return true
}

// CloseRequestResult is the payload of a close_request_result callback.
type CloseRequestResult struct {
	Type        string `json:"type"`
	RequestID   string `json:"request_id"`
	ReferenceID string `json:"reference_id"`
	Success     bool   `json:"success"`
}
