package schema

import (
	"strings"
	"testing"
)

func TestCollectionDDL(t *testing.T) {
	ddl := collectionDDL("recipients")
	want := `CREATE TABLE IF NOT EXISTS grantbook_recipients (
	id TEXT PRIMARY KEY,
	data JSONB NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if ddl != want {
		t.Errorf("got:\n%s\nwant:\n%s", ddl, want)
	}
}

func TestEventsDDL_KeyedByLogCoordinates(t *testing.T) {
	ddl := eventsDDL()
	if !strings.Contains(ddl, "PRIMARY KEY (tx_hash, log_index)") {
		t.Errorf("events table must be keyed by (tx_hash, log_index):\n%s", ddl)
	}
	if !strings.Contains(ddl, "global_position BIGINT GENERATED ALWAYS AS IDENTITY") {
		t.Errorf("events table must carry a global position:\n%s", ddl)
	}
}

func TestProjectionCheckpointsDDL(t *testing.T) {
	ddl := projectionCheckpointsDDL()
	want := `CREATE TABLE IF NOT EXISTS grantbook_projection_checkpoints (
	projection_name TEXT PRIMARY KEY,
	last_position BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'running',
	last_error TEXT,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if ddl != want {
		t.Errorf("got:\n%s\nwant:\n%s", ddl, want)
	}
}

func TestValidateCollectionName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"recipients", true},
		{"registry_summaries", true},
		{"Recipients2", true},
		{"", false},
		{"drop table;--", false},
		{"has space", false},
		{"has-dash", false},
		{"1starts_with_digit", false},
		{strings.Repeat("a", 56), false},
	}
	for _, tt := range tests {
		err := ValidateCollectionName(tt.name)
		if (err == nil) != tt.valid {
			t.Errorf("ValidateCollectionName(%q): got err=%v, wantValid=%v", tt.name, err, tt.valid)
		}
	}
}

func TestCollectionTable(t *testing.T) {
	if got := CollectionTable("recipients"); got != "grantbook_recipients" {
		t.Errorf("got %q, want %q", got, "grantbook_recipients")
	}
}

func TestBootstrap_TracksCreated(t *testing.T) {
	b := New()
	if b.IsCreated("grantbook_recipients") {
		t.Error("should not be created yet")
	}
	b.MarkCreated("grantbook_recipients")
	if !b.IsCreated("grantbook_recipients") {
		t.Error("should be created")
	}
	b.InvalidateTable("grantbook_recipients")
	if b.IsCreated("grantbook_recipients") {
		t.Error("should be invalidated")
	}
}

func TestBootstrap_TracksIndexes(t *testing.T) {
	b := New()
	name := "idx_grantbook_chain_events_stream"
	if b.IsIndexCreated(name) {
		t.Error("should not be created yet")
	}
	b.MarkIndexCreated(name)
	if !b.IsIndexCreated(name) {
		t.Error("should be created")
	}
}

func TestEnsureCollection_RejectsInvalidNameWithoutExec(t *testing.T) {
	b := New()
	// nil executor: a DDL attempt would panic
	if err := b.EnsureCollection(t.Context(), nil, "bad name"); err == nil {
		t.Fatal("expected validation error")
	}
}
