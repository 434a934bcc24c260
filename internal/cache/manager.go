package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Manager layers the memory cache over the disk cache. Reads fall through to
// disk and promote hits into memory; writes go to both tiers.
type Manager struct {
	memory *MemoryCache
	disk   *DiskCache
	cfg    Config
	logger *log.Logger

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	mu    sync.Mutex
	stats ManagerStats
}

// ManagerStats aggregates both tiers.
type ManagerStats struct {
	MemoryHits  int64
	DiskHits    int64
	Misses      int64
	Promotions  int64
	CleanupRuns int64
	LastCleanup time.Time

	Memory Stats
	Disk   Stats
}

// HitRate returns the combined hit rate.
func (s ManagerStats) HitRate() float64 {
	hits := s.MemoryHits + s.DiskHits
	if hits+s.Misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+s.Misses)
}

// NewManager creates both tiers. cfg.DiskPath is required.
func NewManager(cfg Config, logger *log.Logger) (*Manager, error) {
	if cfg.DiskPath == "" {
		return nil, errors.New("cache directory is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithPrefix("cache")

	disk, err := NewDiskCache(cfg.DiskPath, cfg.DiskCapacity, cfg.CompressionLevel, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create disk cache: %w", err)
	}

	m := &Manager{
		memory: NewMemoryCache(cfg.MemoryCapacity),
		disk:   disk,
		cfg:    cfg,
		logger: logger,
		stop:   make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		m.wg.Add(1)
		go m.cleanupLoop()
	}
	return m, nil
}

// Key builds the cache key of a rendered audio file. The URL is part of the
// key so a re-rendered file is never served from an older download.
func Key(assetKey, url string) string {
	sum := sha256.Sum256([]byte(url))
	return assetKey + "@" + hex.EncodeToString(sum[:8])
}

// Get looks in memory, then on disk.
func (m *Manager) Get(key string) ([]byte, bool) {
	if data, ok := m.memory.Get(key); ok {
		m.count(func(s *ManagerStats) { s.MemoryHits++ })
		return data, true
	}
	if data, ok := m.disk.Get(key); ok {
		if err := m.memory.Put(key, data); err == nil {
			m.count(func(s *ManagerStats) { s.DiskHits++; s.Promotions++ })
		} else {
			m.count(func(s *ManagerStats) { s.DiskHits++ })
		}
		return data, true
	}
	m.count(func(s *ManagerStats) { s.Misses++ })
	return nil, false
}

// Put stores a value in both tiers. A value too large for one tier is kept
// in the other; failing to write the disk copy is logged, not returned.
func (m *Manager) Put(key string, value []byte) error {
	memErr := m.memory.Put(key, value)
	diskErr := m.disk.Put(key, value)
	if diskErr != nil && !errors.Is(diskErr, ErrItemTooLarge) {
		m.logger.Warn("Failed to persist cached audio", "key", key, "err", diskErr)
	}
	if memErr != nil && diskErr != nil {
		return memErr
	}
	return nil
}

// Delete removes a key from both tiers.
func (m *Manager) Delete(key string) error {
	return errors.Join(m.memory.Delete(key), m.disk.Delete(key))
}

// Clear empties both tiers.
func (m *Manager) Clear() error {
	return errors.Join(m.memory.Clear(), m.disk.Clear())
}

// Contains reports whether either tier holds key.
func (m *Manager) Contains(key string) bool {
	return m.memory.Contains(key) || m.disk.Contains(key)
}

// Size returns the bytes held by both tiers.
func (m *Manager) Size() (memory, disk int64) {
	return m.memory.Size(), m.disk.Size()
}

// Stats returns counters of both tiers.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	s := m.stats
	m.mu.Unlock()
	s.Memory = m.memory.Stats()
	s.Disk = m.disk.Stats()
	return s
}

// Cleanup drops expired entries. It runs periodically when a cleanup
// interval is configured.
func (m *Manager) Cleanup() {
	m.count(func(s *ManagerStats) {
		s.CleanupRuns++
		s.LastCleanup = time.Now()
	})
	if m.cfg.TTL <= 0 {
		return
	}
	disk := m.disk.RemoveOlderThan(time.Now().Add(-m.cfg.TTL))
	mem := m.memory.Prune(m.cfg.TTL)
	if disk+mem > 0 {
		m.logger.Debug("Expired cached audio", "disk", disk, "memory", mem)
	}
}

// Close stops the cleanup loop and persists the disk index.
func (m *Manager) Close() error {
	m.once.Do(func() { close(m.stop) })
	m.wg.Wait()
	if err := m.disk.Close(); err != nil {
		return fmt.Errorf("failed to close disk cache: %w", err)
	}
	return nil
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Cleanup()
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) count(f func(*ManagerStats)) {
	m.mu.Lock()
	f(&m.stats)
	m.mu.Unlock()
}
