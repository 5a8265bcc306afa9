// Package retention sweeps the scratch area.
//
// Spool runs are always removed by the process that wrote them; files that
// outlive spool_max_age were left by a crashed process. Reconciled copies
// and downloads are caches reused across runs and are removed once they
// have not been touched for aligned_max_age.
package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xtxerr/rastercalc/config"
	"github.com/xtxerr/rastercalc/internal/storage/spool"
)

// Area is one kind of scratch content.
type Area int

const (
	AreaSpool Area = iota
	AreaAligned
	AreaFetch
)

// String returns the area name.
func (a Area) String() string {
	switch a {
	case AreaSpool:
		return "spool"
	case AreaAligned:
		return "aligned"
	case AreaFetch:
		return "fetch"
	default:
		return fmt.Sprintf("area(%d)", int(a))
	}
}

// AllAreas returns every area in sweep order.
func AllAreas() []Area {
	return []Area{AreaSpool, AreaAligned, AreaFetch}
}

// Options locates the scratch area and sets the age limits.
type Options struct {
	SpoolDir   string
	AlignedDir string
	FetchDir   string

	// SpoolMaxAge applies to spool runs.
	SpoolMaxAge time.Duration

	// AlignedMaxAge applies to reconciled copies and downloads.
	AlignedMaxAge time.Duration
}

// DefaultOptions returns the documented age limits for the given dirs.
func DefaultOptions(spoolDir, alignedDir, fetchDir string) Options {
	return Options{
		SpoolDir:      spoolDir,
		AlignedDir:    alignedDir,
		FetchDir:      fetchDir,
		SpoolMaxAge:   config.DefaultSpoolMaxAge,
		AlignedMaxAge: config.DefaultAlignedMaxAge,
	}
}

// Manager handles cleanup of the scratch area.
type Manager struct {
	mu    sync.RWMutex
	opts  Options
	stats Stats
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime    time.Time
	EntriesDeleted int64
	BytesFreed     int64
	EntriesSkipped int64
	Errors         int64
}

// CleanupResult holds the result of a cleanup operation.
type CleanupResult struct {
	Area           Area
	EntriesDeleted int
	BytesFreed     int64
	EntriesSkipped int
	Errors         []error
}

// New creates a new retention manager.
func New(opts Options) *Manager {
	return &Manager{opts: opts}
}

// RunCleanup sweeps every area.
func (m *Manager) RunCleanup() []CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.LastRunTime = time.Now()

	var results []CleanupResult
	for _, area := range AllAreas() {
		result := m.cleanupArea(area, false)
		results = append(results, result)

		m.stats.EntriesDeleted += int64(result.EntriesDeleted)
		m.stats.BytesFreed += result.BytesFreed
		m.stats.EntriesSkipped += int64(result.EntriesSkipped)
		m.stats.Errors += int64(len(result.Errors))
	}
	return results
}

// DryRun reports what RunCleanup would delete without deleting anything.
func (m *Manager) DryRun() []CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []CleanupResult
	for _, area := range AllAreas() {
		results = append(results, m.cleanupArea(area, true))
	}
	return results
}

func (m *Manager) cleanupArea(area Area, dryRun bool) CleanupResult {
	result := CleanupResult{Area: area}
	cutoff := time.Now().Add(-m.maxAge(area))

	entries, err := m.list(area)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, fmt.Errorf("list %s: %w", area, err))
		}
		return result
	}

	for _, e := range entries {
		if e.modTime.After(cutoff) {
			result.EntriesSkipped++
			continue
		}

		if !dryRun {
			if err := os.RemoveAll(e.path); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", e.path, err))
				continue
			}
		}

		result.EntriesDeleted++
		result.BytesFreed += e.size
	}
	return result
}

func (m *Manager) maxAge(area Area) time.Duration {
	if area == AreaSpool {
		return m.opts.SpoolMaxAge
	}
	return m.opts.AlignedMaxAge
}

func (m *Manager) dir(area Area) string {
	switch area {
	case AreaSpool:
		return m.opts.SpoolDir
	case AreaAligned:
		return m.opts.AlignedDir
	default:
		return m.opts.FetchDir
	}
}

// entry is one deletable unit: a file, or a whole aligned directory.
type entry struct {
	name    string
	path    string
	size    int64
	modTime time.Time
}

// list returns the deletable entries of area, oldest name first.
func (m *Manager) list(area Area) ([]entry, error) {
	dir := m.dir(area)
	if dir == "" {
		return nil, nil
	}

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []entry
	for _, de := range dirEntries {
		name := de.Name()
		path := filepath.Join(dir, name)

		switch area {
		case AreaSpool:
			if de.IsDir() || !strings.HasPrefix(name, spool.FilePrefix) || !strings.HasSuffix(name, spool.FileSuffix) {
				continue
			}
		case AreaAligned:
			if !de.IsDir() || !strings.HasPrefix(name, "aligned-") {
				continue
			}
			size, newest, err := treeUsage(path)
			if err != nil {
				continue
			}
			out = append(out, entry{name: name, path: path, size: size, modTime: newest})
			continue
		case AreaFetch:
			if de.IsDir() {
				continue
			}
		}

		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, entry{name: name, path: path, size: info.Size(), modTime: info.ModTime()})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].name < out[j].name
	})
	return out, nil
}

// treeUsage returns the total file size under root and the newest
// modification time of root or anything below it.
func treeUsage(root string) (int64, time.Time, error) {
	var size int64
	var newest time.Time
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		if !d.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, newest, err
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// DiskUsage holds disk usage information.
type DiskUsage struct {
	EntryCount int
	TotalSize  int64
}

// GetDiskUsage returns disk usage for each area.
func (m *Manager) GetDiskUsage() map[Area]DiskUsage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	usage := make(map[Area]DiskUsage)
	for _, area := range AllAreas() {
		entries, err := m.list(area)
		if err != nil {
			continue
		}

		var total int64
		for _, e := range entries {
			total += e.size
		}
		usage[area] = DiskUsage{EntryCount: len(entries), TotalSize: total}
	}
	return usage
}

// FormatDiskUsage returns a formatted string of disk usage.
func (m *Manager) FormatDiskUsage() string {
	usage := m.GetDiskUsage()

	var result string
	var totalSize int64
	var totalEntries int

	for _, area := range AllAreas() {
		u := usage[area]
		totalSize += u.TotalSize
		totalEntries += u.EntryCount

		result += fmt.Sprintf("  %s: %d entries, %s\n", area, u.EntryCount, FormatBytes(u.TotalSize))
	}

	return fmt.Sprintf("Disk Usage:\n%s  Total: %d entries, %s\n",
		result, totalEntries, FormatBytes(totalSize))
}

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
