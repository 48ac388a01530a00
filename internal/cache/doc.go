// Package cache provides a small generic TTL cache with LRU eviction,
// used to keep recently fetched knowledge articles in memory.
package cache
