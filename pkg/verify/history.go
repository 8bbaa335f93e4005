package verify

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cgast/schemaprobe/pkg/probe"
	"github.com/cgast/schemaprobe/pkg/report"
)

// RunInfo is metadata about a stored report.
type RunInfo struct {
	RunID      string         `json:"run_id"`
	FinishedAt time.Time      `json:"finished_at"`
	Verdict    report.Verdict `json:"verdict"`
}

// Change records how one check moved between two runs.
type Change struct {
	CheckID string       `json:"check_id"`
	Before  probe.Status `json:"before,omitempty"`
	After   probe.Status `json:"after,omitempty"`
	Type    string       `json:"type"` // "added", "removed", "regressed", "fixed", "modified"
}

// Regression reports whether the check got worse.
func (c Change) Regression() bool {
	return c.Type == "regressed"
}

// History stores reports as JSON files in a directory, one per run.
type History struct {
	dir string
}

// NewHistory creates a History rooted at dir.
func NewHistory(dir string) (*History, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &History{dir: dir}, nil
}

func (h *History) path(runID string) string {
	return filepath.Join(h.dir, runID+".json")
}

// ErrInvalidRunID is returned for run ids that cannot name a file inside
// the history directory.
var ErrInvalidRunID = errors.New("invalid run id")

func checkRunID(runID string) error {
	if runID == "" || strings.ContainsAny(runID, `/\`) {
		return fmt.Errorf("%w %q", ErrInvalidRunID, runID)
	}
	return nil
}

// Save writes r under its run id.
func (h *History) Save(r report.Report) error {
	if err := checkRunID(r.RunID); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return os.WriteFile(h.path(r.RunID), data, 0644)
}

// Load reads the report of runID.
func (h *History) Load(runID string) (report.Report, error) {
	if err := checkRunID(runID); err != nil {
		return report.Report{}, fmt.Errorf("read report: %w", err)
	}
	data, err := os.ReadFile(h.path(runID))
	if err != nil {
		return report.Report{}, fmt.Errorf("read report %q: %w", runID, err)
	}
	var r report.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return report.Report{}, fmt.Errorf("parse report %q: %w", runID, err)
	}
	return r, nil
}

// List returns the stored runs, oldest first.
func (h *History) List() ([]RunInfo, error) {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list reports: %w", err)
	}

	var infos []RunInfo
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		r, err := h.Load(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		infos = append(infos, RunInfo{RunID: r.RunID, FinishedAt: r.FinishedAt, Verdict: r.Verdict})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].FinishedAt.Before(infos[j].FinishedAt)
	})
	return infos, nil
}

// Latest returns the most recently finished report, or false when the
// history is empty.
func (h *History) Latest() (report.Report, bool, error) {
	infos, err := h.List()
	if err != nil || len(infos) == 0 {
		return report.Report{}, false, err
	}
	r, err := h.Load(infos[len(infos)-1].RunID)
	if err != nil {
		return report.Report{}, false, err
	}
	return r, true, nil
}

// Diff loads two stored runs and compares them.
func (h *History) Diff(a, b string) ([]Change, error) {
	ra, err := h.Load(a)
	if err != nil {
		return nil, err
	}
	rb, err := h.Load(b)
	if err != nil {
		return nil, err
	}
	return DiffReports(ra, rb), nil
}

// DiffReports compares per-check statuses of two reports. Changes follow
// the order of b, then checks only present in a.
func DiffReports(a, b report.Report) []Change {
	before := make(map[string]probe.Status, len(a.Results))
	for _, res := range a.Results {
		before[res.CheckID] = res.Status
	}

	var changes []Change
	seen := make(map[string]bool, len(b.Results))
	for _, res := range b.Results {
		seen[res.CheckID] = true
		prev, ok := before[res.CheckID]
		switch {
		case !ok:
			changes = append(changes, Change{CheckID: res.CheckID, After: res.Status, Type: "added"})
		case prev == res.Status:
		case prev == probe.StatusPass:
			changes = append(changes, Change{CheckID: res.CheckID, Before: prev, After: res.Status, Type: "regressed"})
		case res.Status == probe.StatusPass:
			changes = append(changes, Change{CheckID: res.CheckID, Before: prev, After: res.Status, Type: "fixed"})
		default:
			changes = append(changes, Change{CheckID: res.CheckID, Before: prev, After: res.Status, Type: "modified"})
		}
	}
	for _, res := range a.Results {
		if !seen[res.CheckID] {
			changes = append(changes, Change{CheckID: res.CheckID, Before: res.Status, Type: "removed"})
		}
	}
	return changes
}
