package ids

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewIsUniqueAndOrdered(t *testing.T) {
	const n = 1000
	got := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id := New()
		require.Len(t, id, 26)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
		got = append(got, id)
	}
	require.True(t, sort.StringsAreSorted(got), "ids must sort in generation order")
}

func TestNewIsSafeForConcurrentUse(t *testing.T) {
	const workers, perWorker = 8, 200
	ch := make(chan string, workers*perWorker)
	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for j := 0; j < perWorker; j++ {
				ch <- New()
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < workers; i++ {
		<-done
	}
	close(ch)

	seen := make(map[string]struct{}, workers*perWorker)
	for id := range ch {
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
	require.Len(t, seen, workers*perWorker)
}
