package planwire

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeEvent_KnownTypes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"document update", `{"type":"document.update","session_id":"s1","document":{"title":"T","content":"C","version":1}}`},
		{"question with progress", `{"type":"question","session_id":"s1","question":{"id":"q1","text":"A"},"progress":{"round":1,"max_rounds":5}}`},
		{"question without progress", `{"type":"question","session_id":"s1","question":{"id":"q1","text":"A"}}`},
		{"status", `{"type":"status","session_id":"s1","status":"thinking","message":"working"}`},
		{"ready for approval", `{"type":"ready_for_approval","session_id":"s1","message":"done"}`},
		{"task error", `{"type":"task.error","session_id":"s1","error":"LLM unavailable","context":"generate"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tt.raw))
			if err != nil {
				t.Fatalf("DecodeEvent failed: %v", err)
			}
			if ev.SessionID != "s1" {
				t.Errorf("Expected session id s1, got %q", ev.SessionID)
			}
		})
	}
}

func TestDecodeEvent_DocumentFields(t *testing.T) {
	raw := `{"type":"document.update","session_id":"s1","document":{"title":"Fitness Agent","content":"...","url":"https://x/doc","version":3}}`
	ev, err := DecodeEvent([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	doc := ev.Document
	if doc.Title != "Fitness Agent" || doc.Content != "..." || doc.URL != "https://x/doc" || doc.Version != 3 {
		t.Errorf("Unexpected document: %+v", doc)
	}
}

func TestDecodeEvent_Rejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `{{{`, ErrMalformedFrame},
		{"missing type", `{"session_id":"s1"}`, ErrMalformedFrame},
		{"unknown type", `{"type":"telemetry.ping"}`, ErrUnknownEventType},
		{"document update without document", `{"type":"document.update"}`, ErrMalformedFrame},
		{"question without question", `{"type":"question","progress":{"round":1,"max_rounds":5}}`, ErrMalformedFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeEvent([]byte(tt.raw)); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCommandRoundTrip(t *testing.T) {
	data, err := json.Marshal(StartPlan("Build a fitness agent"))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	cmd, err := DecodeCommand(data)
	if err != nil {
		t.Fatalf("DecodeCommand failed: %v", err)
	}
	if cmd.Type != CommandStartPlan || cmd.Prompt != "Build a fitness agent" {
		t.Errorf("Unexpected command: %+v", cmd)
	}

	data, _ = json.Marshal(UserResponse("x"))
	cmd, err = DecodeCommand(data)
	if err != nil {
		t.Fatalf("DecodeCommand failed: %v", err)
	}
	if cmd.Type != CommandUserResponse || cmd.Response != "x" {
		t.Errorf("Unexpected command: %+v", cmd)
	}
}

func TestDecodeCommand_Rejections(t *testing.T) {
	if _, err := DecodeCommand([]byte(`{"type":"shutdown"}`)); !errors.Is(err, ErrUnknownEventType) {
		t.Errorf("Expected unknown type error, got %v", err)
	}
	if _, err := DecodeCommand([]byte(`not json`)); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("Expected malformed frame error, got %v", err)
	}
}
