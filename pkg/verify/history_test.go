package verify

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cgast/schemaprobe/pkg/probe"
	"github.com/cgast/schemaprobe/pkg/report"
)

func storedReport(id string, finished time.Time, statuses map[string]probe.Status, order ...string) report.Report {
	var results []probe.Result
	for _, checkID := range order {
		results = append(results, probe.Result{CheckID: checkID, Status: statuses[checkID]})
	}
	r := report.Aggregate(results)
	r.RunID = id
	r.FinishedAt = finished
	return r
}

func TestHistorySaveLoad(t *testing.T) {
	h, err := NewHistory(filepath.Join(t.TempDir(), "runs"))
	if err != nil {
		t.Fatalf("NewHistory: %v", err)
	}

	r := storedReport("run-1", time.Now(), map[string]probe.Status{"a": probe.StatusPass}, "a")
	if err := h.Save(r); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := h.Load("run-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Verdict != report.VerdictReady {
		t.Errorf("Verdict = %q, want ready", loaded.Verdict)
	}
	if len(loaded.Results) != 1 || loaded.Results[0].CheckID != "a" {
		t.Errorf("Results = %+v", loaded.Results)
	}
}

func TestHistoryLoadMissing(t *testing.T) {
	h, err := NewHistory(t.TempDir())
	if err != nil {
		t.Fatalf("NewHistory: %v", err)
	}
	if _, err := h.Load("nonexistent"); err == nil {
		t.Error("expected error for missing run")
	}
}

func TestHistorySaveRejectsBadRunID(t *testing.T) {
	h, err := NewHistory(t.TempDir())
	if err != nil {
		t.Fatalf("NewHistory: %v", err)
	}
	for _, id := range []string{"", "../escape"} {
		if err := h.Save(report.Report{RunID: id}); err == nil {
			t.Errorf("Save(%q): expected error", id)
		}
	}
}

func TestHistoryLoadStaysInDir(t *testing.T) {
	root := t.TempDir()
	h, err := NewHistory(filepath.Join(root, "runs"))
	if err != nil {
		t.Fatalf("NewHistory: %v", err)
	}
	// A valid report outside the history directory must stay unreachable.
	if err := os.WriteFile(filepath.Join(root, "outside.json"), []byte(`{"run_id":"outside"}`), 0644); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"", "../outside", `..\outside`, "a/b"} {
		_, err := h.Load(id)
		if !errors.Is(err, ErrInvalidRunID) {
			t.Errorf("Load(%q) = %v, want ErrInvalidRunID", id, err)
		}
	}
	if _, err := h.Diff("../outside", "../outside"); !errors.Is(err, ErrInvalidRunID) {
		t.Errorf("Diff through parent dir = %v, want ErrInvalidRunID", err)
	}
}

func TestHistoryListAndLatest(t *testing.T) {
	h, err := NewHistory(t.TempDir())
	if err != nil {
		t.Fatalf("NewHistory: %v", err)
	}

	if _, ok, err := h.Latest(); err != nil || ok {
		t.Fatalf("Latest on empty history = %v, %v", ok, err)
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"second", "first", "third"} {
		offset := []time.Duration{time.Hour, 0, 2 * time.Hour}[i]
		if err := h.Save(storedReport(id, base.Add(offset), nil)); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	infos, err := h.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("List returned %d runs, want 3", len(infos))
	}
	for i, want := range []string{"first", "second", "third"} {
		if infos[i].RunID != want {
			t.Errorf("infos[%d] = %s, want %s", i, infos[i].RunID, want)
		}
	}

	latest, ok, err := h.Latest()
	if err != nil || !ok {
		t.Fatalf("Latest: %v, %v", ok, err)
	}
	if latest.RunID != "third" {
		t.Errorf("Latest = %s, want third", latest.RunID)
	}
}

func TestDiffReports(t *testing.T) {
	a := storedReport("a", time.Time{}, map[string]probe.Status{
		"same":    probe.StatusPass,
		"broke":   probe.StatusPass,
		"healed":  probe.StatusFail,
		"worse":   probe.StatusFail,
		"dropped": probe.StatusPass,
	}, "same", "broke", "healed", "worse", "dropped")
	b := storedReport("b", time.Time{}, map[string]probe.Status{
		"same":   probe.StatusPass,
		"broke":  probe.StatusError,
		"healed": probe.StatusPass,
		"worse":  probe.StatusError,
		"new":    probe.StatusFail,
	}, "same", "broke", "healed", "worse", "new")

	changes := DiffReports(a, b)
	want := []Change{
		{CheckID: "broke", Before: probe.StatusPass, After: probe.StatusError, Type: "regressed"},
		{CheckID: "healed", Before: probe.StatusFail, After: probe.StatusPass, Type: "fixed"},
		{CheckID: "worse", Before: probe.StatusFail, After: probe.StatusError, Type: "modified"},
		{CheckID: "new", After: probe.StatusFail, Type: "added"},
		{CheckID: "dropped", Before: probe.StatusPass, Type: "removed"},
	}
	if len(changes) != len(want) {
		t.Fatalf("got %d changes, want %d: %+v", len(changes), len(want), changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("changes[%d] = %+v, want %+v", i, changes[i], want[i])
		}
	}
	if !changes[0].Regression() || changes[1].Regression() {
		t.Error("Regression() misclassified")
	}
}

func TestHistoryDiff(t *testing.T) {
	h, err := NewHistory(t.TempDir())
	if err != nil {
		t.Fatalf("NewHistory: %v", err)
	}
	_ = h.Save(storedReport("a", time.Now(), map[string]probe.Status{"x": probe.StatusPass}, "x"))
	_ = h.Save(storedReport("b", time.Now(), map[string]probe.Status{"x": probe.StatusFail}, "x"))

	changes, err := h.Diff("a", "b")
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(changes) != 1 || !changes[0].Regression() {
		t.Errorf("changes = %+v", changes)
	}
	if _, err := h.Diff("a", "missing"); err == nil {
		t.Error("expected error for missing run")
	}
}
