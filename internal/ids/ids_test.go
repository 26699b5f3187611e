package ids

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Format(t *testing.T) {
	id := UUIDv7{}.New()

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Len(t, id, 36)
}

func TestUUIDv7Sortable(t *testing.T) {
	gen := UUIDv7{}
	prev := gen.New()
	for i := 0; i < 100; i++ {
		next := gen.New()
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestSequence(t *testing.T) {
	gen := NewSequence("war")
	assert.Equal(t, "war-0001", gen.New())
	assert.Equal(t, "war-0002", gen.New())

	def := NewSequence("")
	assert.Equal(t, "id-0001", def.New())
}

func TestSequenceConcurrent(t *testing.T) {
	gen := NewSequence("v")
	seen := sync.Map{}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, dup := seen.LoadOrStore(gen.New(), true)
			assert.False(t, dup)
		}()
	}
	wg.Wait()
}
