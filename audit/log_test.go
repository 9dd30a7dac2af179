package audit

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogSink_Write(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	defer sink.Close()

	allowed := true
	sink.Write(&Event{
		EventType:   "policy_evaluated",
		Phase:       "policy",
		ExecutionID: "exec-1",
		ToolName:    "write_file",
		AgentName:   "planner",
		Allowed:     &allowed,
		Supervision: "confirm",
		Risk:        "medium",
	})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Message != "gate_audit_event" {
		t.Fatalf("unexpected message: %s", entries[0].Message)
	}

	fields := entries[0].ContextMap()
	if fields["event_type"] != "policy_evaluated" {
		t.Fatalf("event_type missing: %v", fields)
	}
	if fields["allowed"] != true {
		t.Fatalf("allowed missing: %v", fields)
	}
	if fields["supervision_level"] != "confirm" {
		t.Fatalf("supervision_level missing: %v", fields)
	}
}

func TestLogSink_OmitsEmptyFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	sink.Write(&Event{EventType: "pre_execution", Phase: "execution", ExecutionID: "exec-2", ToolName: "read_file"})

	fields := logs.All()[0].ContextMap()
	for _, absent := range []string{"agent_name", "allowed", "error"} {
		if _, ok := fields[absent]; ok {
			t.Fatalf("field %q should be omitted when empty: %v", absent, fields)
		}
	}
}
