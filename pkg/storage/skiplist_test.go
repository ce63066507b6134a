package storage

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intCmp(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func TestSkiplistInsertFindDelete(t *testing.T) {
	s := NewSkiplist[int, string](intCmp)

	_, ok := s.Find(1)
	assert.False(t, ok)

	s.Insert(1, "one")
	s.Insert(2, "two")
	v, ok := s.Find(1)
	require.True(t, ok)
	assert.Equal(t, "one", v)
	assert.Equal(t, 2, s.Len())

	assert.True(t, s.Delete(1))
	_, ok = s.Find(1)
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())

	assert.False(t, s.Delete(99))
}

func TestSkiplistInsertReplacesExistingKey(t *testing.T) {
	s := NewSkiplist[int, string](intCmp)
	s.Insert(1, "first")
	s.Insert(1, "second")
	v, ok := s.Find(1)
	require.True(t, ok)
	assert.Equal(t, "second", v)
	assert.Equal(t, 1, s.Len())
}

func TestSkiplistRangeYieldsAscendingOrder(t *testing.T) {
	s := NewSkiplist[int, int](intCmp)
	input := []int{5, 1, 9, 3, 7, 2, 8, 4, 6}
	for _, k := range input {
		s.Insert(k, k*10)
	}

	var got []int
	s.Range(nil, func(k, v int) bool {
		got = append(got, k)
		return true
	})

	want := append([]int(nil), input...)
	sort.Ints(want)
	assert.Equal(t, want, got)
}

func TestSkiplistRangeFromLowerBound(t *testing.T) {
	s := NewSkiplist[int, int](intCmp)
	for i := 1; i <= 10; i++ {
		s.Insert(i, i)
	}
	lower := 5
	var got []int
	s.Range(&lower, func(k, v int) bool {
		got = append(got, k)
		return true
	})
	assert.Equal(t, []int{5, 6, 7, 8, 9, 10}, got)
}

func TestSkiplistRangeStopsWhenVisitReturnsFalse(t *testing.T) {
	s := NewSkiplist[int, int](intCmp)
	for i := 1; i <= 10; i++ {
		s.Insert(i, i)
	}
	var got []int
	s.Range(nil, func(k, v int) bool {
		got = append(got, k)
		return len(got) < 3
	})
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestSkiplistConcurrentInsertFind(t *testing.T) {
	s := NewSkiplist[int, int](intCmp)
	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(k int) {
			defer wg.Done()
			s.Insert(k, k)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, n, s.Len())
	for i := 0; i < n; i++ {
		v, ok := s.Find(i)
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestSkiplistAllReturnsEverySnapshottedValue(t *testing.T) {
	s := NewSkiplist[int, string](intCmp)
	s.Insert(1, "a")
	s.Insert(2, "b")
	s.Insert(3, "c")
	all := s.All()
	assert.ElementsMatch(t, []string{"a", "b", "c"}, all)
}
