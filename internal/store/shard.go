// Package store implements the sharded parameter store at the heart of the
// asynchronous aggregation engine: the full parameter vector is partitioned
// into contiguous, independently-lockable shards, each carrying a short ring
// of historical versions, and workers synchronize with it through dense or
// sparse fetch/push operations.
package store

import (
	"fmt"

	"github.com/hogwild-ml/hogwild/internal/tensor"
)

// Shard describes one contiguous, disjoint sub-range of the global parameter
// vector. Shards are created once at store initialization and never resized;
// workers only ever see copies of their contents.
type Shard struct {
	ID     int
	Device tensor.Device
	Size   int
	Offset int
}

// Partition splits totalSize parameters across the given devices into
// contiguous shards of ceil(totalSize/N) elements; the last shard absorbs
// the remainder and may be smaller (or empty when totalSize < N). Shard
// sizes always sum to totalSize.
func Partition(totalSize int, devices []tensor.Device) ([]Shard, error) {
	if totalSize <= 0 {
		return nil, fmt.Errorf("total parameter count must be positive, got %d", totalSize)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("at least one device is required")
	}

	n := len(devices)
	shardSize := (totalSize + n - 1) / n

	shards := make([]Shard, n)
	remaining := totalSize
	offset := 0
	for i, device := range devices {
		size := min(shardSize, remaining)
		shards[i] = Shard{
			ID:     i,
			Device: device,
			Size:   size,
			Offset: offset,
		}
		offset += size
		remaining -= size
	}
	return shards, nil
}
