package policy

import "testing"

func TestRuleMatches_CaseInsensitive(t *testing.T) {
	r := mustRule(t, "reads", RuleConfig{Pattern: "Read_*", Supervision: "automatic"})
	if !r.Matches(&ToolCall{Name: "READ_FILE"}) {
		t.Fatalf("pattern matching must ignore case")
	}
	if r.Matches(&ToolCall{Name: "write_file"}) {
		t.Fatalf("unrelated tool matched")
	}
}

func TestRuleMatches_DisabledNeverMatches(t *testing.T) {
	off := false
	r := mustRule(t, "reads", RuleConfig{Pattern: "read_*", Supervision: "automatic", Enabled: &off})
	if r.Matches(&ToolCall{Name: "read_file"}) {
		t.Fatalf("disabled rule matched")
	}
}

func TestCondition_PathPattern(t *testing.T) {
	r := mustRule(t, "etc_writes", RuleConfig{
		Pattern:     "write_*",
		Supervision: "manual",
		Conditions:  []map[string]any{{"path_pattern": "/etc/**"}},
	})

	if !r.Matches(&ToolCall{Name: "write_file", Parameters: map[string]any{"path": "/etc/ssh/sshd_config"}}) {
		t.Fatalf("nested /etc path should match")
	}
	if r.Matches(&ToolCall{Name: "write_file", Parameters: map[string]any{"path": "/home/u/notes.txt"}}) {
		t.Fatalf("path outside /etc matched")
	}
	if r.Matches(&ToolCall{Name: "write_file"}) {
		t.Fatalf("call without a path parameter matched a path condition")
	}
}

func TestCondition_CommandPatternAndPrefix(t *testing.T) {
	r := mustRule(t, "sudo", RuleConfig{
		Pattern:     "execute_*",
		Supervision: "manual",
		Conditions:  []map[string]any{{"command_prefix": "sudo"}},
	})
	if !r.Matches(&ToolCall{Name: "execute_command", Parameters: map[string]any{"command": "  sudo rm x"}}) {
		t.Fatalf("prefix should match after trimming leading whitespace")
	}
	if r.Matches(&ToolCall{Name: "execute_command", Parameters: map[string]any{"command": "ls -la"}}) {
		t.Fatalf("non-sudo command matched")
	}

	r = mustRule(t, "wipe", RuleConfig{
		Pattern:     "execute_*",
		Supervision: "deny",
		Conditions:  []map[string]any{{"command_pattern": "*rm -rf /*"}},
	})
	if !r.Matches(&ToolCall{Name: "execute_command", Parameters: map[string]any{"command": "sudo RM -rf /data"}}) {
		t.Fatalf("command pattern must ignore case")
	}
	if r.Matches(&ToolCall{Name: "execute_command", Parameters: map[string]any{"command": "rm notes.txt"}}) {
		t.Fatalf("benign rm matched the wipe pattern")
	}
}

func TestCondition_UnknownKeyFailsClosed(t *testing.T) {
	r := mustRule(t, "typo", RuleConfig{
		Pattern:     "write_*",
		Supervision: "manual",
		Conditions:  []map[string]any{{"pathh_pattern": "/etc/**"}},
	})
	if r.Matches(&ToolCall{Name: "write_file", Parameters: map[string]any{"path": "/etc/passwd"}}) {
		t.Fatalf("a condition with an unknown key must never match")
	}
}

func TestCondition_CommandParameterAliases(t *testing.T) {
	for _, key := range []string{"command", "cmd", "script"} {
		if got := commandParameter(map[string]any{key: "echo hi"}); got != "echo hi" {
			t.Fatalf("commandParameter(%s) = %q", key, got)
		}
	}
	if got := commandParameter(map[string]any{"command": 42}); got != "" {
		t.Fatalf("non-string command should be ignored, got %q", got)
	}
}

func TestPathParameters_FallbackScan(t *testing.T) {
	got := PathParameters(map[string]any{"output": "/var/log/syslog", "count": 3})
	if len(got) != 1 || got[0] != "/var/log/syslog" {
		t.Fatalf("fallback scan should pick up path-shaped values, got %v", got)
	}

	got = PathParameters(map[string]any{"path": "a.txt", "dest": "~/b.txt"})
	if len(got) != 2 {
		t.Fatalf("canonical keys should both be returned, got %v", got)
	}
}
