package sharding

import (
	"fmt"
	"hash/crc32"
)

// ShardCount is the fixed number of partitions for the event subjects.
// Events for the same user always land on the same shard, so a queue
// consumer group preserves rough per-user ordering without coordination.
const ShardCount = 1024

// GetShardID calculates the deterministic shard ID for a user.
func GetShardID(userID string) int {
	checksum := crc32.ChecksumIEEE([]byte(userID))
	return int(checksum % ShardCount)
}

// EventSubject returns the JetStream subject for a user's event notices.
// Format: sync.event.{shard_id}.user.{user_id}
func EventSubject(userID string) string {
	return fmt.Sprintf("sync.event.%d.user.%s", GetShardID(userID), userID)
}
