package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSeed(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return path
}

func TestLoadSeed(t *testing.T) {
	ctx := context.Background()
	path := writeSeed(t, "seed.yaml", `
people:
  - id: s1
    display_name: Ada
    role: student
  - id: s2
    display_name: Grace
    role: Student
  - id: i1
    display_name: Coach Kim
    role: instructor
  - id: i2
    display_name: Retired
    role: instructor
    active: false
payments:
  - student_id: s2
    amount_cents: 5000
    due_date: "2025-05-01"
    status: overdue
  - student_id: s1
    amount_cents: 5000
    due_date: "2025-05-01T00:00:00Z"
    status: paid
`)

	people, payments, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("LoadSeed error: %v", err)
	}

	for id, want := range map[string]bool{"s1": true, "s2": true, "i1": true, "i2": false, "nobody": false} {
		got, err := people.Exists(ctx, id)
		if err != nil {
			t.Fatalf("Exists(%s): %v", id, err)
		}
		if got != want {
			t.Fatalf("Exists(%s) = %v, want %v", id, got, want)
		}
	}
	if name, _ := people.DisplayName(ctx, "i1"); name != "Coach Kim" {
		t.Fatalf("DisplayName(i1) = %q, want Coach Kim", name)
	}

	for id, want := range map[string]bool{"s1": false, "s2": true} {
		got, err := payments.IsDelinquent(ctx, id)
		if err != nil {
			t.Fatalf("IsDelinquent(%s): %v", id, err)
		}
		if got != want {
			t.Fatalf("IsDelinquent(%s) = %v, want %v", id, got, want)
		}
	}
}

func TestLoadSeed_JSON(t *testing.T) {
	path := writeSeed(t, "seed.json", `{"people": [{"id": "s1", "display_name": "Ada", "role": "student"}]}`)
	people, _, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("LoadSeed error: %v", err)
	}
	if ok, _ := people.Exists(context.Background(), "s1"); !ok {
		t.Fatalf("s1 not loaded from json seed")
	}
}

func TestLoadSeed_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing id", "people:\n  - display_name: Ada\n    role: student\n", "people[0]: id is required"},
		{"unknown role", "people:\n  - id: s1\n    role: admin\n", "unknown role"},
		{"unknown payment status", "payments:\n  - student_id: s1\n    status: late\n", "unknown status"},
		{"bad due date", "payments:\n  - student_id: s1\n    status: paid\n    due_date: tomorrow\n", "due_date"},
		{"bad payment id", "payments:\n  - id: nope\n    student_id: s1\n    status: paid\n", "id:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := LoadSeed(writeSeed(t, "seed.yaml", tt.body))
			if err == nil {
				t.Fatalf("LoadSeed error = nil, want %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}

	if _, _, err := LoadSeed(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("LoadSeed(missing) error = nil")
	}
}
