package store

// VersionTracker keeps the per-shard global version counters and each
// worker's last-seen version of every shard. It is pure bookkeeping: all
// mutation happens under the owning shard's lock, so the tracker itself
// holds no locks. The invariant local <= global holds for any shard a
// worker has observed coherently.
type VersionTracker struct {
	global []int64
	local  [][]int64 // [worker][shard]
}

// NewVersionTracker creates a tracker for the given worker and shard counts,
// with all versions at zero.
func NewVersionTracker(workers, shards int) *VersionTracker {
	local := make([][]int64, workers)
	for w := range local {
		local[w] = make([]int64, shards)
	}
	return &VersionTracker{
		global: make([]int64, shards),
		local:  local,
	}
}

// Bump increments the shard's global version and returns the new value.
// Must be called under the shard's lock.
func (v *VersionTracker) Bump(shard int) int64 {
	v.global[shard]++
	return v.global[shard]
}

// Global returns the shard's current global version.
func (v *VersionTracker) Global(shard int) int64 {
	return v.global[shard]
}

// Local returns the version of the shard the worker last observed.
func (v *VersionTracker) Local(worker, shard int) int64 {
	return v.local[worker][shard]
}

// SetLocal records that the worker has observed the shard at version ver.
// Must be called under the shard's lock.
func (v *VersionTracker) SetLocal(worker, shard int, ver int64) {
	v.local[worker][shard] = ver
}

// Staleness returns how many versions behind the shard's global version the
// worker is.
func (v *VersionTracker) Staleness(worker, shard int) int64 {
	return v.global[shard] - v.local[worker][shard]
}
