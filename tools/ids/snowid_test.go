package ids

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateIsMonotonic(t *testing.T) {
	prev := Generate()
	for i := 0; i < 10000; i++ {
		id := Generate()
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestTimeRoundTrip(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := Generate()
	assert.True(t, Time(id).After(before))
	assert.True(t, Time(id).Before(time.Now().Add(time.Second)))
}

func TestNodeIDFromString(t *testing.T) {
	a := NodeIDFromString("relay-a")
	assert.Equal(t, a, NodeIDFromString("relay-a"))
	assert.GreaterOrEqual(t, a, int64(0))
	assert.Less(t, a, int64(1024))
}
