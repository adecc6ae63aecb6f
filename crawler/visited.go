package crawler

import (
	"errors"
	"fmt"
	"os"
	"sync"

	bloom "github.com/bits-and-blooms/bloom/v3"
	"github.com/edsrzf/mmap-go"
)

// defaultExpectedURLs sizes the filter when the caller gives no estimate.
const defaultExpectedURLs = 100000

// VisitedTracker is the frontier's seen-set: a bloom filter over dedup keys
// backed by a memory-mapped file in the run directory, so a large crawl
// keeps a fixed footprint. A false positive drops a URL; it never queues
// one twice.
type VisitedTracker struct {
	mu        sync.Mutex
	filter    *bloom.BloomFilter
	file      *os.File
	mmap      mmap.MMap
	path      string
	count     uint64 // keys added since last sync
	syncEvery uint64
	lastErr   error
}

// NewVisitedTracker creates a tracker whose backing file lives in dir (the
// OS temp directory when empty), sized for expected keys at a 0.1% false
// positive rate.
func NewVisitedTracker(dir string, expected uint) (*VisitedTracker, error) {
	if expected == 0 {
		expected = defaultExpectedURLs
	}
	if dir == "" {
		dir = os.TempDir()
	}
	filter := bloom.NewWithEstimates(expected, 0.001)

	file, err := os.CreateTemp(dir, "visited-*.bloom")
	if err != nil {
		return nil, fmt.Errorf("create visited file: %w", err)
	}
	path := file.Name()

	data, err := filter.MarshalBinary()
	if err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("marshal bloom filter: %w", err)
	}

	// The marshaled form carries a header on top of the bit set.
	size := len(data)
	if err := file.Truncate(int64(size)); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("truncate visited file: %w", err)
	}

	mapped, err := mmap.MapRegion(file, size, mmap.RDWR, 0, 0)
	if err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("mmap visited file: %w", err)
	}
	copy(mapped, data)

	return &VisitedTracker{
		filter:    filter,
		file:      file,
		mmap:      mapped,
		path:      path,
		syncEvery: 1000,
	}, nil
}

// IsVisited reports whether key was seen. It can report false positives but
// never false negatives.
func (v *VisitedTracker) IsVisited(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.filter.TestString(key)
}

// VisitIfNew marks key and reports whether it was new, in one step.
func (v *VisitedTracker) VisitIfNew(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.filter.TestString(key) {
		return false
	}
	v.filter.AddString(key)
	v.count++

	if v.count >= v.syncEvery {
		// best-effort; surfaced through LastError and Close
		if err := v.syncLocked(); err != nil {
			v.lastErr = err
		}
	}
	return true
}

// syncLocked persists the filter to the mapped file. Must be called with mu held.
func (v *VisitedTracker) syncLocked() error {
	data, err := v.filter.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal bloom filter: %w", err)
	}
	if len(data) <= len(v.mmap) {
		copy(v.mmap, data)
	}
	if err := v.mmap.Flush(); err != nil {
		return fmt.Errorf("flush mmap: %w", err)
	}
	v.count = 0
	return nil
}

// Close syncs pending keys, unmaps and removes the backing file. It is safe
// to call more than once.
func (v *VisitedTracker) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var errs []error
	if v.lastErr != nil {
		errs = append(errs, v.lastErr)
		v.lastErr = nil
	}

	if v.mmap != nil {
		if v.count > 0 {
			if err := v.syncLocked(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := v.mmap.Unmap(); err != nil {
			errs = append(errs, fmt.Errorf("unmap: %w", err))
		}
		v.mmap = nil
	}

	if v.file != nil {
		if err := v.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close file: %w", err))
		}
		v.file = nil
	}

	if v.path != "" {
		if err := os.Remove(v.path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove visited file: %w", err))
		}
		v.path = ""
	}

	if len(errs) > 0 {
		return fmt.Errorf("close visited tracker: %w", errors.Join(errs...))
	}
	return nil
}

// LastError returns the last error of a periodic sync.
func (v *VisitedTracker) LastError() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastErr
}
