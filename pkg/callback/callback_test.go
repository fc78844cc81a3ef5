package callback

import (
	"encoding/json"
	"testing"
)

func TestNewRejectsMalformedPayloads(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "{bad", `"just a string"`, `[1,2,3]`, "null"} {
		if _, err := New(KindIncomingRequest, []byte(raw)); err == nil {
			t.Fatalf("expected error for payload %q", raw)
		}
	}
}

func TestNewCopiesPayload(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"type":"incoming_request","request_id":"req-1"}`)
	evt, err := New(KindIncomingRequest, raw)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	raw[2] = 'X'
	if string(evt.Payload) != `{"type":"incoming_request","request_id":"req-1"}` {
		t.Fatalf("payload aliases caller buffer: %s", evt.Payload)
	}
	if evt.Kind != KindIncomingRequest {
		t.Fatalf("unexpected kind %q", evt.Kind)
	}
	if evt.ReceivedAt.IsZero() {
		t.Fatal("expected timestamp")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		payload string
		want    Kind
	}{
		{`{"type":"request_status","request_id":"r1"}`, KindRequestStatus},
		{`{"type":"create_request_result","success":true}`, KindCreateRequestResult},
		{`{"type":"close_request_result","success":true}`, KindCloseRequestResult},
		{`{"type":"error","error_code":123}`, KindError},
		{`{"type":"something_else"}`, KindUnknown},
		{`{"no_type_field":true}`, KindUnknown},
	}
	for _, tc := range cases {
		evt, err := Classify([]byte(tc.payload))
		if err != nil {
			t.Fatalf("classify %s: %v", tc.payload, err)
		}
		if evt.Kind != tc.want {
			t.Fatalf("classify %s: expected %q, got %q", tc.payload, tc.want, evt.Kind)
		}
	}
	if _, err := Classify([]byte(`{bad`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestRequestStatusDecode(t *testing.T) {
	t.Parallel()

	raw := `{
		"type": "request_status",
		"request_id": "req-1",
		"reference_id": "ref-1",
		"mode": 3,
		"status": "completed",
		"min_idp": 1,
		"answered_idp_count": 1,
		"response_valid_list": [{"idp_id": 2, "valid_signature": true, "valid_ial": null}],
		"service_list": [{"service_id": "bank_statement", "min_as": 1, "signed_data_count": 1, "received_data_count": 1}]
	}`
	var status RequestStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.RequestID != "req-1" || status.ReferenceID != "ref-1" {
		t.Fatalf("unexpected ids: %+v", status)
	}
	if len(status.ResponseValidList) != 1 || len(status.ServiceList) != 1 {
		t.Fatalf("unexpected list lengths: %+v", status)
	}
	// null valid_ial counts as failed validation
	if status.ResponseValidList[0].ValidIal {
		t.Fatal("expected null valid_ial to decode as false")
	}
}

func TestRequestStatusDecodeStringIdpID(t *testing.T) {
	t.Parallel()

	// node ids arrive as numbers or strings depending on the platform;
	// neither may break the snapshot decode
	raw := `{
		"type": "request_status",
		"request_id": "req-1",
		"mode": 3,
		"status": "completed",
		"response_valid_list": [
			{"idp_id": "idp1", "valid_signature": true, "valid_ial": true},
			{"idp_id": 2, "valid_signature": true, "valid_ial": true}
		]
	}`
	var status RequestStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(status.ResponseValidList) != 2 {
		t.Fatalf("unexpected list: %+v", status.ResponseValidList)
	}
	if !status.Accepted() {
		t.Fatal("expected snapshot with valid responses to be accepted")
	}
}

func TestRequestStatusAccepted(t *testing.T) {
	t.Parallel()

	valid := ResponseValid{ValidSignature: true, ValidIal: true}
	badSig := ResponseValid{ValidSignature: false, ValidIal: true}
	badIal := ResponseValid{ValidSignature: true, ValidIal: false}

	cases := []struct {
		name   string
		status RequestStatus
		want   bool
	}{
		{"mode1_no_validation", RequestStatus{Mode: 1, ResponseValidList: []ResponseValid{badSig}}, true},
		{"mode2_all_valid", RequestStatus{Mode: 2, ResponseValidList: []ResponseValid{valid, valid}}, true},
		{"mode3_all_valid", RequestStatus{Mode: 3, ResponseValidList: []ResponseValid{valid}}, true},
		{"mode3_bad_signature", RequestStatus{Mode: 3, ResponseValidList: []ResponseValid{valid, badSig}}, false},
		{"mode3_bad_ial", RequestStatus{Mode: 3, ResponseValidList: []ResponseValid{badIal}}, false},
		{"mode3_empty_list", RequestStatus{Mode: 3}, true},
		{"unknown_mode", RequestStatus{Mode: 4, ResponseValidList: []ResponseValid{valid}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.status.Accepted(); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
