package queues

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestScanIntent_Valid(t *testing.T) {
	tests := []struct {
		name string
		in   ScanIntent
		want bool
	}{
		{"scan", ScanIntent{Action: ActionScan}, true},
		{"back with station", ScanIntent{Action: ActionBack, StationID: "s1"}, true},
		{"focus", ScanIntent{Action: ActionFocus}, true},
		{"blur", ScanIntent{Action: ActionBlur}, true},
		{"empty", ScanIntent{}, false},
		{"unknown", ScanIntent{Action: "park"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Valid(); got != tt.want {
				t.Errorf("Valid() mismatch\nexpected: %#v\nactual: %#v", tt.want, got)
			}
		})
	}
}

func TestScanIntent_DecodesWireFormat(t *testing.T) {
	var in ScanIntent
	if err := json.Unmarshal([]byte(`{"action":"scan","stationId":"gate-2"}`), &in); err != nil {
		t.Fatalf("unmarshal err: %#v", err)
	}
	want := ScanIntent{Action: ActionScan, StationID: "gate-2"}
	if in != want {
		t.Errorf("decode mismatch\n in=%#v\nwant=%#v", in, want)
	}
}

func TestVacancyEvent_JSON(t *testing.T) {
	retrieval := true
	tests := []struct {
		name string
		in   VacancyEvent
	}{
		{"success", VacancyEvent{EnvelopeVersion: EnvelopeVersion, Type: VacancyEventType, SessionID: "s1", BikeRackID: 1, UserDocument: "RACK-1", Status: StatusSuccess, Message: strPtr("Bike retrieved"), IsRetrieval: &retrieval}},
		{"failure", VacancyEvent{EnvelopeVersion: EnvelopeVersion, Type: VacancyEventType, SessionID: "s2", BikeRackID: 3, UserDocument: "X", Status: StatusFailure, ErrorMessage: strPtr("authentication failed")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.in)
			if err != nil {
				t.Fatalf("marshal err: %#v", err)
			}
			var out VacancyEvent
			if err := json.Unmarshal(b, &out); err != nil {
				t.Fatalf("unmarshal err: %#v", err)
			}
			if !reflect.DeepEqual(tt.in, out) {
				t.Errorf("roundtrip mismatch\n in=%#v\nout=%#v", tt.in, out)
			}
		})
	}
}

func TestVacancyEvent_OmitsUnsetFields(t *testing.T) {
	b, err := json.Marshal(VacancyEvent{Status: StatusFailure})
	if err != nil {
		t.Fatalf("marshal err: %#v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal err: %#v", err)
	}
	for _, k := range []string{"message", "isRetrieval", "errorMessage"} {
		if _, ok := raw[k]; ok {
			t.Errorf("expected %q to be omitted: %s", k, b)
		}
	}
}

func strPtr(s string) *string { return &s }
