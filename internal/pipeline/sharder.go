package pipeline

import "hash/fnv"

// shardFor routes a location to a worker. FNV-1a keeps the mapping stable
// across restarts so a location's averaging buffers and alert state always
// live with the same worker.
func shardFor(locationID string, workers int) int {
	h := fnv.New32a()
	h.Write([]byte(locationID)) //nolint:errcheck // never fails
	return int(h.Sum32() % uint32(workers))
}
