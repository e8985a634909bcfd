package event

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTypeValid(t *testing.T) {
	for _, typ := range []Type{TypeSession, TypeActivity, TypeTool, TypeAgent, TypeSummary, TypeError} {
		if !typ.Valid() {
			t.Errorf("expected %q to be valid", typ)
		}
	}
	if Type("bogus").Valid() {
		t.Error("expected bogus type to be invalid")
	}
}

func TestUnmarshalSelectsVariant(t *testing.T) {
	line := `{"id":"e1","source":"m1","timestamp":"2026-08-30T10:00:00Z","type":"tool","payload":{"session_id":"s1","project":"api","tool":"Read","status":"ok","file":"main.go"}}`

	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	p, ok := ev.Payload.(ToolPayload)
	if !ok {
		t.Fatalf("expected ToolPayload, got %T", ev.Payload)
	}
	if p.Tool != "Read" || p.File != "main.go" {
		t.Errorf("unexpected payload: %+v", p)
	}
	if ev.Project() != "api" || ev.SessionID() != "s1" {
		t.Errorf("accessors: project=%q session=%q", ev.Project(), ev.SessionID())
	}
}

func TestUnmarshalUnknownType(t *testing.T) {
	line := `{"id":"e1","source":"m1","timestamp":"2026-08-30T10:00:00Z","type":"telemetry","payload":{}}`
	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestRoundTripPreservesVariant(t *testing.T) {
	ev := New("m1", TypeSession, time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC), SessionPayload{
		SessionID: "s1", Project: "api", Status: "started",
	})
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"status":"started"`) {
		t.Errorf("payload not inlined: %s", data)
	}
	var back Event
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := back.Payload.(SessionPayload); !ok {
		t.Fatalf("expected SessionPayload, got %T", back.Payload)
	}
}

func TestValidate(t *testing.T) {
	good := New("m1", TypeActivity, time.Now(), ActivityPayload{SessionID: "s1", Category: "prompt"})
	if err := good.Validate(); err != nil {
		t.Errorf("expected valid event, got %v", err)
	}

	cases := []struct {
		name string
		ev   Event
	}{
		{"missing id", Event{Source: "m1", Type: TypeActivity, Timestamp: time.Now(), Payload: ActivityPayload{}}},
		{"missing source", Event{ID: "e1", Type: TypeActivity, Timestamp: time.Now(), Payload: ActivityPayload{}}},
		{"bad type", Event{ID: "e1", Source: "m1", Type: "nope", Timestamp: time.Now(), Payload: ActivityPayload{}}},
		{"nil payload", Event{ID: "e1", Source: "m1", Type: TypeActivity, Timestamp: time.Now()}},
		{"zero timestamp", Event{ID: "e1", Source: "m1", Type: TypeActivity, Payload: ActivityPayload{}}},
	}
	for _, tc := range cases {
		if err := tc.ev.Validate(); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestDecodeBatchSingleAndArray(t *testing.T) {
	single := `{"id":"e1","source":"m1","timestamp":"2026-08-30T10:00:00Z","type":"summary","payload":{"session_id":"s1"}}`
	events, err := DecodeBatch([]byte(single))
	if err != nil {
		t.Fatalf("single: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	array := "  [" + single + "," + single + "]"
	events, err = DecodeBatch([]byte(array))
	if err != nil {
		t.Fatalf("array: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	if _, err := DecodeBatch([]byte("not json")); err == nil {
		t.Error("expected error for malformed body")
	}
}
