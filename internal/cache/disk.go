package cache

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
)

const indexFile = "index.gob"

// compressThreshold is the size below which values are stored raw.
const compressThreshold = 1024

// DiskCache is the L2 cache. Values live in one file each, optionally zstd
// compressed, and a gob index records their metadata across restarts.
type DiskCache struct {
	dir      string
	capacity int64
	logger   *log.Logger

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu    sync.Mutex
	size  int64
	index map[string]*diskEntry
	stats Stats
}

// diskEntry is persisted in the index; fields must stay exported for gob.
type diskEntry struct {
	Key          string
	File         string
	Size         int64 // on disk
	OriginalSize int64
	Stored       time.Time
	LastAccess   time.Time
	Hits         int64
	Compressed   bool
}

// NewDiskCache opens or creates a disk cache in dir. A compression level of
// zero stores values uncompressed.
func NewDiskCache(dir string, capacity int64, compressionLevel int, logger *log.Logger) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}

	dc := &DiskCache{
		dir:      dir,
		capacity: capacity,
		logger:   logger,
		index:    make(map[string]*diskEntry),
	}

	if compressionLevel > 0 {
		var err error
		dc.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}
	// Entries written with compression must stay readable after the level
	// is set to zero, so the decoder is always available.
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	dc.decoder = dec

	if err := dc.loadIndex(); err != nil {
		dc.logger.Warn("Discarding unreadable cache index", "dir", dir, "err", err)
		dc.index = make(map[string]*diskEntry)
	}
	for _, e := range dc.index {
		dc.size += e.Size
	}
	return dc, nil
}

// Get reads a value. Missing or corrupt files are dropped from the index.
func (dc *DiskCache) Get(key string) ([]byte, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	e, ok := dc.index[key]
	if !ok {
		dc.stats.Misses++
		return nil, false
	}

	data, err := dc.read(e)
	if err != nil {
		dc.logger.Debug("Dropping unreadable cache entry", "key", key, "err", err)
		dc.removeLocked(key)
		dc.stats.Misses++
		return nil, false
	}

	e.LastAccess = time.Now()
	e.Hits++
	dc.stats.Hits++
	dc.stats.LastAccess = e.LastAccess
	return data, true
}

func (dc *DiskCache) read(e *diskEntry) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dc.dir, e.File))
	if err != nil {
		return nil, err
	}
	if !e.Compressed {
		return data, nil
	}
	out, err := dc.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.Join(ErrCacheCorrupted, err)
	}
	return out, nil
}

// Put writes a value, evicting least recently accessed entries as needed.
func (dc *DiskCache) Put(key string, value []byte) error {
	data, compressed := value, false
	if dc.encoder != nil && len(value) > compressThreshold {
		if z := dc.encoder.EncodeAll(value, nil); len(z) < len(value) {
			data, compressed = z, true
		}
	}
	n := int64(len(data))

	dc.mu.Lock()
	defer dc.mu.Unlock()

	if n > dc.capacity {
		return ErrItemTooLarge
	}
	dc.removeLocked(key)
	for dc.size+n > dc.capacity && len(dc.index) > 0 {
		dc.evictLocked()
	}

	name := fileName(key)
	if err := writeFileAtomic(filepath.Join(dc.dir, name), data); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	now := time.Now()
	dc.index[key] = &diskEntry{
		Key:          key,
		File:         name,
		Size:         n,
		OriginalSize: int64(len(value)),
		Stored:       now,
		LastAccess:   now,
		Compressed:   compressed,
	}
	dc.size += n
	return dc.saveIndex()
}

// Delete removes a key. Missing keys are ignored.
func (dc *DiskCache) Delete(key string) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if _, ok := dc.index[key]; !ok {
		return nil
	}
	dc.removeLocked(key)
	return dc.saveIndex()
}

// Clear removes every entry and its file.
func (dc *DiskCache) Clear() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	for key := range dc.index {
		dc.removeLocked(key)
	}
	return dc.saveIndex()
}

// Contains reports whether key is indexed.
func (dc *DiskCache) Contains(key string) bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	_, ok := dc.index[key]
	return ok
}

// Size returns the bytes used on disk.
func (dc *DiskCache) Size() int64 {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.size
}

// Stats returns a snapshot of the counters.
func (dc *DiskCache) Stats() Stats {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	s := dc.stats
	s.Capacity = dc.capacity
	s.Size = dc.size
	s.ItemCount = int64(len(dc.index))
	return s
}

// Oldest returns up to n entries, least recently accessed first.
func (dc *DiskCache) Oldest(n int) []Entry {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	entries := make([]*diskEntry, 0, len(dc.index))
	for _, e := range dc.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccess.Before(entries[j].LastAccess)
	})
	if len(entries) > n {
		entries = entries[:n]
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, Entry{
			Key:        e.Key,
			Size:       e.OriginalSize,
			Stored:     e.Stored,
			LastAccess: e.LastAccess,
			Hits:       e.Hits,
			Level:      LevelDisk,
		})
	}
	return out
}

// RemoveOlderThan drops entries stored before cutoff.
func (dc *DiskCache) RemoveOlderThan(cutoff time.Time) int {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	removed := 0
	for key, e := range dc.index {
		if e.Stored.Before(cutoff) {
			dc.removeLocked(key)
			removed++
		}
	}
	if removed > 0 {
		if err := dc.saveIndex(); err != nil {
			dc.logger.Warn("Failed to save cache index", "err", err)
		}
	}
	return removed
}

// Close persists the index.
func (dc *DiskCache) Close() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.saveIndex()
}

func (dc *DiskCache) evictLocked() {
	var oldest *diskEntry
	for _, e := range dc.index {
		if oldest == nil || e.LastAccess.Before(oldest.LastAccess) {
			oldest = e
		}
	}
	if oldest == nil {
		return
	}
	dc.logger.Debug("Evicting cached audio", "key", oldest.Key, "size", oldest.Size)
	dc.removeLocked(oldest.Key)
	dc.stats.Evictions++
	dc.stats.LastEvict = time.Now()
}

func (dc *DiskCache) removeLocked(key string) {
	e, ok := dc.index[key]
	if !ok {
		return
	}
	if err := os.Remove(filepath.Join(dc.dir, e.File)); err != nil && !os.IsNotExist(err) {
		dc.logger.Debug("Failed to remove cache file", "file", e.File, "err", err)
	}
	delete(dc.index, key)
	dc.size -= e.Size
}

func (dc *DiskCache) loadIndex() error {
	f, err := os.Open(filepath.Join(dc.dir, indexFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	index := make(map[string]*diskEntry)
	if err := gob.NewDecoder(f).Decode(&index); err != nil {
		return err
	}
	// forget entries whose files vanished
	for key, e := range index {
		if _, err := os.Stat(filepath.Join(dc.dir, e.File)); err != nil {
			delete(index, key)
		}
	}
	dc.index = index
	return nil
}

func (dc *DiskCache) saveIndex() error {
	f, err := os.CreateTemp(dc.dir, indexFile+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := gob.NewEncoder(f).Encode(dc.index); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, filepath.Join(dc.dir, indexFile))
}

func fileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16]) + ".audio"
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

var _ Cache = (*DiskCache)(nil)
