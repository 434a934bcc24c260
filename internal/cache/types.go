package cache

import (
	"errors"
	"time"
)

var (
	// ErrItemTooLarge is returned when an item exceeds the cache capacity.
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCacheCorrupted is returned when a stored file cannot be decoded.
	ErrCacheCorrupted = errors.New("cache data corrupted")
)

// Level is a cache tier.
type Level int

const (
	LevelMemory Level = iota
	LevelDisk
)

func (l Level) String() string {
	switch l {
	case LevelMemory:
		return "memory"
	case LevelDisk:
		return "disk"
	default:
		return "unknown"
	}
}

// Stats holds cache counters.
type Stats struct {
	Capacity  int64
	Size      int64
	ItemCount int64

	Hits      int64
	Misses    int64
	Evictions int64

	LastAccess time.Time
	LastEvict  time.Time
}

// HitRate returns hits / (hits + misses).
func (s Stats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

// Entry describes a cached item.
type Entry struct {
	Key        string
	Size       int64
	Stored     time.Time
	LastAccess time.Time
	Hits       int64
	Level      Level
}

// Config holds cache configuration.
type Config struct {
	MemoryCapacity int64 // bytes

	DiskCapacity     int64 // bytes
	DiskPath         string
	CompressionLevel int // zstd level, 0 disables compression

	// TTL is how long downloaded audio stays valid. Zero keeps it forever.
	TTL             time.Duration
	CleanupInterval time.Duration
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		MemoryCapacity:   64 << 20,
		DiskCapacity:     512 << 20,
		CompressionLevel: 3,
		TTL:              7 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
	}
}

// Cache is a byte cache keyed by string.
type Cache interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte) error
	Delete(key string) error
	Clear() error
	Contains(key string) bool
	Size() int64
	Stats() Stats
}
