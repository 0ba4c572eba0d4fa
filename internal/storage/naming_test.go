package storage

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var identifierPattern = regexp.MustCompile(`^[0-9]+_[0-9A-Za-z]{8}$`)

func TestNewIdentifier_Format(t *testing.T) {
	before := time.Now().Unix()
	id := NewIdentifier()
	after := time.Now().Unix()

	require.Regexp(t, identifierPattern, id)

	ts, err := strconv.ParseInt(strings.SplitN(id, "_", 2)[0], 10, 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ts, before)
	assert.LessOrEqual(t, ts, after)
}

func TestNewIdentifier_ConcurrentCallsAreDistinct(t *testing.T) {
	const n = 2000

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, n)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := NewIdentifier()
			mu.Lock()
			seen[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
}

func TestBlobNames(t *testing.T) {
	id := "1700000000_ab3f9c1d"

	assert.Equal(t, "1700000000_ab3f9c1d.glb", PrimaryName(id, "glb"))
	assert.Equal(t, "1700000000_ab3f9c1d_related_0.mtl", RelatedName(id, 0, "mtl"))
	assert.Equal(t, "1700000000_ab3f9c1d_related_2.obj", RelatedName(id, 2, "obj"))
}
