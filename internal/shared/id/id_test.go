package id

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixes(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewSessionID().String(), "sess_"))
	assert.True(t, strings.HasPrefix(NewSnapshotID().String(), "snap_"))
	assert.True(t, strings.HasPrefix(NewClientID().String(), "client_"))
}

func TestUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewSessionID().String()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestConcurrentGeneration(t *testing.T) {
	gen := NewGenerator()

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := gen.GenerateWithPrefix("sess")
				mu.Lock()
				assert.False(t, seen[id])
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 1600)
}

func TestEncodesCreationTime(t *testing.T) {
	gen := NewGenerator()
	id := gen.GenerateWithPrefix("snap")

	parts := strings.SplitN(id, "_", 2)
	require.Len(t, parts, 2)

	parsed, err := ulid.Parse(parts[1])
	require.NoError(t, err)

	now := ulid.Timestamp(time.Now())
	assert.InDelta(t, now, parsed.Time(), 5000)
}
