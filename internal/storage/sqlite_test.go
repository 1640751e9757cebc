package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/martinsuchenak/podd/internal/model"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	ss, err := NewSQLiteStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	t.Cleanup(func() { ss.Close() })
	return ss
}

func testTarget(name string) *model.Target {
	return &model.Target{
		ID:        uuid.New().String(),
		Name:      name,
		Transport: "ssh",
		Address:   "192.168.1.10",
		Port:      22,
		Username:  "admin",
		Tags:      []string{"lab", "linux"},
	}
}

func TestCreateAndGetTarget(t *testing.T) {
	ss := newTestStorage(t)

	target := testTarget("web01")
	if err := ss.CreateTarget(target); err != nil {
		t.Fatalf("CreateTarget: %v", err)
	}

	got, err := ss.GetTarget(target.ID)
	if err != nil {
		t.Fatalf("GetTarget by ID: %v", err)
	}
	if got.Name != "web01" || got.Transport != "ssh" || got.Address != "192.168.1.10" {
		t.Errorf("unexpected target %+v", got)
	}
	if len(got.Tags) != 2 {
		t.Errorf("tags = %v, want 2 entries", got.Tags)
	}

	// Name lookup, case-insensitive.
	got, err = ss.GetTarget("WEB01")
	if err != nil {
		t.Fatalf("GetTarget by name: %v", err)
	}
	if got.ID != target.ID {
		t.Errorf("name lookup returned %s, want %s", got.ID, target.ID)
	}
}

func TestGetTargetNotFound(t *testing.T) {
	ss := newTestStorage(t)

	_, err := ss.GetTarget("missing")
	if !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("expected ErrTargetNotFound, got %v", err)
	}
}

func TestCreateTargetDuplicateName(t *testing.T) {
	ss := newTestStorage(t)

	if err := ss.CreateTarget(testTarget("web01")); err != nil {
		t.Fatalf("CreateTarget: %v", err)
	}

	err := ss.CreateTarget(testTarget("web01"))
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestCreateTargetRequiresID(t *testing.T) {
	ss := newTestStorage(t)

	target := testTarget("web01")
	target.ID = ""
	if err := ss.CreateTarget(target); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestUpdateTarget(t *testing.T) {
	ss := newTestStorage(t)

	target := testTarget("web01")
	if err := ss.CreateTarget(target); err != nil {
		t.Fatalf("CreateTarget: %v", err)
	}

	target.Address = "192.168.1.20"
	target.Tags = []string{"prod"}
	if err := ss.UpdateTarget(target); err != nil {
		t.Fatalf("UpdateTarget: %v", err)
	}

	got, err := ss.GetTarget(target.ID)
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	if got.Address != "192.168.1.20" {
		t.Errorf("address = %s, want 192.168.1.20", got.Address)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "prod" {
		t.Errorf("tags = %v, want [prod]", got.Tags)
	}
}

func TestUpdateMissingTarget(t *testing.T) {
	ss := newTestStorage(t)

	if err := ss.UpdateTarget(testTarget("ghost")); !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("expected ErrTargetNotFound, got %v", err)
	}
}

func TestDeleteTargetCascadesOperations(t *testing.T) {
	ss := newTestStorage(t)

	target := testTarget("web01")
	if err := ss.CreateTarget(target); err != nil {
		t.Fatalf("CreateTarget: %v", err)
	}
	record := &model.OperationRecord{
		ID:         uuid.New().String(),
		TargetID:   target.ID,
		Command:    "uptime",
		ExitCode:   0,
		Success:    true,
		DurationMS: 42,
		StartedAt:  time.Now(),
	}
	if err := ss.RecordOperation(record); err != nil {
		t.Fatalf("RecordOperation: %v", err)
	}

	if err := ss.DeleteTarget(target.ID); err != nil {
		t.Fatalf("DeleteTarget: %v", err)
	}

	ops, err := ss.ListOperations(&model.OperationFilter{TargetID: target.ID})
	if err != nil {
		t.Fatalf("ListOperations: %v", err)
	}
	if len(ops) != 0 {
		t.Errorf("expected cascade delete of operations, got %d", len(ops))
	}

	if err := ss.DeleteTarget(target.ID); !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("second delete should report not found, got %v", err)
	}
}

func TestListTargetsFilters(t *testing.T) {
	ss := newTestStorage(t)

	linux := testTarget("web01")
	windows := testTarget("win01")
	windows.Transport = "winrm"
	windows.Tags = []string{"windows"}

	for _, target := range []*model.Target{linux, windows} {
		if err := ss.CreateTarget(target); err != nil {
			t.Fatalf("CreateTarget(%s): %v", target.Name, err)
		}
	}

	all, err := ss.ListTargets(nil)
	if err != nil {
		t.Fatalf("ListTargets: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(all))
	}

	winrm, err := ss.ListTargets(&model.TargetFilter{Transport: "winrm"})
	if err != nil {
		t.Fatalf("ListTargets by transport: %v", err)
	}
	if len(winrm) != 1 || winrm[0].Name != "win01" {
		t.Errorf("transport filter returned %v", winrm)
	}

	tagged, err := ss.ListTargets(&model.TargetFilter{Tags: []string{"lab"}})
	if err != nil {
		t.Fatalf("ListTargets by tag: %v", err)
	}
	if len(tagged) != 1 || tagged[0].Name != "web01" {
		t.Errorf("tag filter returned %v", tagged)
	}
}

func TestSearchTargets(t *testing.T) {
	ss := newTestStorage(t)

	target := testTarget("db-primary")
	target.Address = "10.5.0.17"
	if err := ss.CreateTarget(target); err != nil {
		t.Fatalf("CreateTarget: %v", err)
	}

	tests := []struct {
		query string
		want  int
	}{
		{"primary", 1},
		{"10.5", 1},
		{"linux", 1}, // tag match
		{"nothing", 0},
	}

	for _, tc := range tests {
		got, err := ss.SearchTargets(tc.query)
		if err != nil {
			t.Fatalf("SearchTargets(%q): %v", tc.query, err)
		}
		if len(got) != tc.want {
			t.Errorf("SearchTargets(%q) = %d results, want %d", tc.query, len(got), tc.want)
		}
	}
}

func TestListOperationsOrderAndLimit(t *testing.T) {
	ss := newTestStorage(t)

	target := testTarget("web01")
	if err := ss.CreateTarget(target); err != nil {
		t.Fatalf("CreateTarget: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		record := &model.OperationRecord{
			ID:         uuid.New().String(),
			TargetID:   target.ID,
			Command:    "echo",
			ExitCode:   i,
			Success:    i == 0,
			DurationMS: int64(i),
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := ss.RecordOperation(record); err != nil {
			t.Fatalf("RecordOperation: %v", err)
		}
	}

	ops, err := ss.ListOperations(&model.OperationFilter{TargetID: target.ID, Limit: 3})
	if err != nil {
		t.Fatalf("ListOperations: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("expected 3 records, got %d", len(ops))
	}

	// Most recent first.
	if ops[0].ExitCode != 4 || ops[2].ExitCode != 2 {
		t.Errorf("unexpected order: %v %v %v", ops[0].ExitCode, ops[1].ExitCode, ops[2].ExitCode)
	}
}
