package sharding

import (
	"fmt"
	"hash/crc32"
	"testing"
)

func TestGetShardID_MatchesChecksum(t *testing.T) {
	for _, userID := range []string{"user-1", "user-2", "4f2f0f2b8c1d"} {
		want := int(crc32.ChecksumIEEE([]byte(userID)) % ShardCount)
		if got := GetShardID(userID); got != want {
			t.Errorf("GetShardID(%q) = %d, want %d", userID, got, want)
		}
	}
}

func TestEventSubject(t *testing.T) {
	subject := EventSubject("user-1")
	expected := fmt.Sprintf("sync.event.%d.user.user-1", GetShardID("user-1"))
	if subject != expected {
		t.Errorf("EventSubject = %v, want %v", subject, expected)
	}
}

func TestStableSharding(t *testing.T) {
	// Ensure that the sharding is deterministic and stable
	id := "test-stable-id"
	shard1 := GetShardID(id)
	shard2 := GetShardID(id)

	if shard1 != shard2 {
		t.Errorf("Sharding is not deterministic! %d != %d", shard1, shard2)
	}
}

func TestDistribution(t *testing.T) {
	// Rough check to ensure we don't map everything to shard 0
	distribution := make(map[int]int)
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("key-%d", i)
		shard := GetShardID(key)
		distribution[shard]++
	}

	if len(distribution) < 100 {
		t.Errorf("Sharding distribution is too poor. Only %d unique shards used for 1000 keys", len(distribution))
	}
}
