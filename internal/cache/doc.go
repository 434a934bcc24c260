// Package cache keeps downloaded prayer audio close at hand. An in-memory LRU
// (L1) sits in front of a persistent zstd-compressed disk cache (L2) that
// survives restarts and expires entries after a TTL.
package cache
