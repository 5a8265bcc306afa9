package merge

import (
	"context"
	"math/rand"
	"os"
	"slices"
	"testing"

	"github.com/xtxerr/rastercalc/internal/raster"
	"github.com/xtxerr/rastercalc/internal/storage/spool"
)

func newSpooler(t *testing.T, dir string) *spool.Spooler {
	t.Helper()
	opts := spool.DefaultOptions(dir, raster.Float64)
	opts.ChunkRecords = 3
	s, err := spool.New(opts)
	if err != nil {
		t.Fatalf("spool.New: %v", err)
	}
	return s
}

func spill(t *testing.T, s *spool.Spooler, tiles ...[]float64) []*spool.Run {
	t.Helper()
	var runs []*spool.Run
	for _, tile := range tiles {
		run, err := s.Spill(context.Background(), slices.Clone(tile))
		if err != nil {
			t.Fatalf("Spill: %v", err)
		}
		runs = append(runs, run)
	}
	return runs
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no spool files, found %d", len(entries))
	}
}

func TestMerge_Ordered(t *testing.T) {
	dir := t.TempDir()
	s := newSpooler(t, dir)

	runs := spill(t, s,
		[]float64{5, 1, 9, 3},
		[]float64{},
		[]float64{2, 2, 8},
		[]float64{7},
		[]float64{4, 6, 10, 0},
	)

	it, err := New(runs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer it.Close()

	if it.Total() != 12 {
		t.Errorf("expected total 12, got %d", it.Total())
	}

	var got []float64
	for it.Next() {
		got = append(got, it.Value())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterate: %v", err)
	}

	want := []float64{0, 1, 2, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	// Exhausted runs are removed as the merge proceeds.
	assertEmptyDir(t, dir)
}

func TestMerge_Random(t *testing.T) {
	dir := t.TempDir()
	s := newSpooler(t, dir)

	rng := rand.New(rand.NewSource(42))
	var all []float64
	var tiles [][]float64
	for i := 0; i < 17; i++ {
		tile := make([]float64, rng.Intn(50))
		for j := range tile {
			tile[j] = float64(rng.Intn(100))
		}
		all = append(all, tile...)
		tiles = append(tiles, tile)
	}
	slices.Sort(all)

	it, err := New(spill(t, s, tiles...))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer it.Close()

	i := 0
	for it.Next() {
		if it.Value() != all[i] {
			t.Fatalf("position %d: expected %v, got %v", i, all[i], it.Value())
		}
		i++
	}
	if i != len(all) {
		t.Errorf("expected %d values, got %d", len(all), i)
	}
}

func TestMerge_EarlyCloseRemovesRuns(t *testing.T) {
	dir := t.TempDir()
	s := newSpooler(t, dir)

	it, err := New(spill(t, s, []float64{1, 2, 3}, []float64{4, 5, 6}, []float64{7, 8, 9}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if n := it.Skip(2); n != 2 {
		t.Fatalf("expected 2 skipped, got %d", n)
	}
	if !it.Next() || it.Value() != 3 {
		t.Fatalf("expected 3, got %v", it.Value())
	}

	if err := it.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := it.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if it.Next() {
		t.Error("Next after Close should return false")
	}

	assertEmptyDir(t, dir)
}

func TestMerge_NewFailureRemovesRuns(t *testing.T) {
	dir := t.TempDir()
	s := newSpooler(t, dir)

	runs := spill(t, s, []float64{1, 2}, []float64{3, 4}, []float64{5, 6})

	// Corrupt the second run so opening it fails.
	if err := os.WriteFile(runs[1].Path(), []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := New(runs); err == nil {
		t.Fatal("expected error opening corrupt run")
	}

	assertEmptyDir(t, dir)
}

func TestMerge_Skip(t *testing.T) {
	dir := t.TempDir()
	s := newSpooler(t, dir)

	it, err := New(spill(t, s, []float64{1, 3}, []float64{2, 4}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer it.Close()

	if n := it.Skip(10); n != 4 {
		t.Errorf("expected 4 skipped, got %d", n)
	}
	if it.Emitted() != 4 {
		t.Errorf("expected 4 emitted, got %d", it.Emitted())
	}
	if it.Next() {
		t.Error("expected exhausted iterator")
	}
}

func TestMerge_NoRuns(t *testing.T) {
	it, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer it.Close()

	if it.Next() {
		t.Error("expected no values")
	}
	if it.Total() != 0 {
		t.Errorf("expected total 0, got %d", it.Total())
	}
}

func TestMerge_LeadingEmptyRun(t *testing.T) {
	dir := t.TempDir()
	s := newSpooler(t, dir)

	it, err := New(spill(t, s, []float64{}, []float64{1, 2}, []float64{3}, []float64{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var got []float64
	for it.Next() {
		got = append(got, it.Value())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if want := []float64{1, 2, 3}; !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	if err := it.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	assertEmptyDir(t, dir)
}

func TestMerge_SkipDiscardsChunks(t *testing.T) {
	dir := t.TempDir()
	s := newSpooler(t, dir)

	low := make([]float64, 300)
	for i := range low {
		low[i] = float64(i)
	}

	it, err := New(spill(t, s, low, []float64{1000, 1001}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer it.Close()

	if n := it.Skip(250); n != 250 {
		t.Fatalf("expected 250 skipped, got %d", n)
	}
	if st := it.Stats(); st.ChunksSkipped == 0 {
		t.Errorf("expected whole chunks to be skipped, got %+v", st)
	}
	if !it.Next() || it.Value() != 250 {
		t.Fatalf("expected 250, got %v", it.Value())
	}

	// Drains the rest of the low run, then the high run.
	if n := it.Skip(100); n != 51 {
		t.Errorf("expected 51 skipped, got %d", n)
	}
	if it.Emitted() != 302 {
		t.Errorf("expected 302 emitted, got %d", it.Emitted())
	}
	if it.Next() {
		t.Error("expected exhausted iterator")
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterate: %v", err)
	}
}

func TestMerge_SkipMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var tiles [][]float64
	var all []float64
	for i := 0; i < 9; i++ {
		// Alternate overlapping and disjoint ranges.
		base := float64(i%3) * 40
		tile := make([]float64, 1+rng.Intn(60))
		for j := range tile {
			tile[j] = base + float64(rng.Intn(50))
		}
		tiles = append(tiles, tile)
		all = append(all, tile...)
	}
	slices.Sort(all)

	for _, step := range []int64{1, 2, 5, 17, 64} {
		dir := t.TempDir()
		it, err := New(spill(t, newSpooler(t, dir), tiles...))
		if err != nil {
			t.Fatalf("New: %v", err)
		}

		pos := int64(0)
		for {
			pos += it.Skip(step)
			if !it.Next() {
				break
			}
			if it.Value() != all[pos] {
				t.Fatalf("step %d position %d: expected %v, got %v", step, pos, all[pos], it.Value())
			}
			pos++
		}
		if err := it.Err(); err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		if pos != int64(len(all)) {
			t.Errorf("step %d: expected %d values, got %d", step, len(all), pos)
		}
		it.Close()
		assertEmptyDir(t, dir)
	}
}
