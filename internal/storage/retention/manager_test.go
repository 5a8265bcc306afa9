package retention

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type scratchArea struct {
	root    string
	spool   string
	aligned string
	fetch   string
}

func newScratch(t *testing.T) scratchArea {
	root := t.TempDir()
	s := scratchArea{
		root:    root,
		spool:   filepath.Join(root, "spool"),
		aligned: filepath.Join(root, "aligned"),
		fetch:   filepath.Join(root, "fetch"),
	}
	for _, dir := range []string{s.spool, s.aligned, s.fetch} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	return s
}

func (s scratchArea) manager() *Manager {
	return New(Options{
		SpoolDir:      s.spool,
		AlignedDir:    s.aligned,
		FetchDir:      s.fetch,
		SpoolMaxAge:   time.Hour,
		AlignedMaxAge: 24 * time.Hour,
	})
}

// touch writes path and backdates it by age.
func touch(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("test"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	ts := time.Now().Add(-age)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func backdate(t *testing.T, path string, age time.Duration) {
	t.Helper()
	ts := time.Now().Add(-age)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func resultFor(results []CleanupResult, area Area) CleanupResult {
	for _, r := range results {
		if r.Area == area {
			return r
		}
	}
	return CleanupResult{}
}

func TestManager_RunCleanup(t *testing.T) {
	s := newScratch(t)

	touch(t, filepath.Join(s.spool, "run-old.spool"), 2*time.Hour)
	touch(t, filepath.Join(s.spool, "run-new.spool"), 0)
	touch(t, filepath.Join(s.spool, "notes.txt"), 48*time.Hour)

	touch(t, filepath.Join(s.aligned, "aligned-stale", "a.parquet"), 48*time.Hour)
	backdate(t, filepath.Join(s.aligned, "aligned-stale"), 48*time.Hour)
	touch(t, filepath.Join(s.aligned, "aligned-busy", "a.parquet"), 48*time.Hour)
	touch(t, filepath.Join(s.aligned, "aligned-busy", "b.parquet"), 0)
	backdate(t, filepath.Join(s.aligned, "aligned-busy"), 48*time.Hour)

	touch(t, filepath.Join(s.fetch, "0123.parquet"), 48*time.Hour)

	results := s.manager().RunCleanup()

	if r := resultFor(results, AreaSpool); r.EntriesDeleted != 1 || r.EntriesSkipped != 1 {
		t.Errorf("spool: expected 1 deleted 1 skipped, got %+v", r)
	}
	if r := resultFor(results, AreaAligned); r.EntriesDeleted != 1 || r.EntriesSkipped != 1 || r.BytesFreed != 4 {
		t.Errorf("aligned: expected the stale directory deleted, got %+v", r)
	}
	if r := resultFor(results, AreaFetch); r.EntriesDeleted != 1 {
		t.Errorf("fetch: expected 1 deleted, got %+v", r)
	}

	for path, exists := range map[string]bool{
		filepath.Join(s.spool, "run-old.spool"):   false,
		filepath.Join(s.spool, "run-new.spool"):   true,
		filepath.Join(s.spool, "notes.txt"):       true,
		filepath.Join(s.aligned, "aligned-stale"): false,
		filepath.Join(s.aligned, "aligned-busy"):  true,
		filepath.Join(s.fetch, "0123.parquet"):    false,
	} {
		_, err := os.Stat(path)
		if exists && err != nil {
			t.Errorf("%s should still exist: %v", path, err)
		}
		if !exists && !os.IsNotExist(err) {
			t.Errorf("%s should be deleted", path)
		}
	}
}

func TestManager_DryRun(t *testing.T) {
	s := newScratch(t)
	old := filepath.Join(s.spool, "run-old.spool")
	touch(t, old, 2*time.Hour)

	m := s.manager()
	r := resultFor(m.DryRun(), AreaSpool)
	if r.EntriesDeleted != 1 {
		t.Errorf("expected 1 entry would be deleted, got %d", r.EntriesDeleted)
	}

	if _, err := os.Stat(old); err != nil {
		t.Error("file should still exist after dry run")
	}
	if m.Stats().EntriesDeleted != 0 {
		t.Error("dry run must not count deletions")
	}
}

func TestManager_Stats(t *testing.T) {
	s := newScratch(t)
	touch(t, filepath.Join(s.spool, "run-a.spool"), 2*time.Hour)
	touch(t, filepath.Join(s.spool, "run-b.spool"), 2*time.Hour)

	m := s.manager()
	m.RunCleanup()

	stats := m.Stats()
	if stats.EntriesDeleted != 2 || stats.BytesFreed != 8 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.LastRunTime.IsZero() {
		t.Error("expected last run time")
	}
}

func TestManager_MissingDirs(t *testing.T) {
	root := t.TempDir()
	m := New(DefaultOptions(filepath.Join(root, "a"), filepath.Join(root, "b"), ""))

	for _, r := range m.RunCleanup() {
		if len(r.Errors) != 0 {
			t.Errorf("%s: missing dirs are not errors: %v", r.Area, r.Errors)
		}
	}
}

func TestManager_GetDiskUsage(t *testing.T) {
	s := newScratch(t)
	for _, name := range []string{"run-a.spool", "run-b.spool", "run-c.spool"} {
		touch(t, filepath.Join(s.spool, name), 0)
	}
	touch(t, filepath.Join(s.aligned, "aligned-x", "a.parquet"), 0)
	touch(t, filepath.Join(s.aligned, "aligned-x", "b.parquet"), 0)

	m := s.manager()
	usage := m.GetDiskUsage()

	if u := usage[AreaSpool]; u.EntryCount != 3 || u.TotalSize != 12 {
		t.Errorf("unexpected spool usage %+v", u)
	}
	if u := usage[AreaAligned]; u.EntryCount != 1 || u.TotalSize != 8 {
		t.Errorf("unexpected aligned usage %+v", u)
	}

	out := m.FormatDiskUsage()
	if !strings.Contains(out, "spool: 3 entries, 12 B") || !strings.Contains(out, "Total: 4 entries, 20 B") {
		t.Errorf("unexpected report:\n%s", out)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:               "0 B",
		1023:            "1023 B",
		1024:            "1.00 KB",
		5 * 1024 * 1024: "5.00 MB",
		3 << 30:         "3.00 GB",
	}
	for in, want := range tests {
		if got := FormatBytes(in); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
