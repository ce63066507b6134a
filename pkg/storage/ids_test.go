package storage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGidGeneratorStartsAtOneAndIncrements(t *testing.T) {
	g := NewGidGenerator()
	assert.Equal(t, Gid(1), g.Next())
	assert.Equal(t, Gid(2), g.Next())
	assert.Equal(t, Gid(3), g.Next())
}

func TestGidGeneratorConcurrentNextNeverDuplicates(t *testing.T) {
	g := NewGidGenerator()
	const n = 200
	seen := make([]Gid, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			seen[idx] = g.Next()
		}(i)
	}
	wg.Wait()

	unique := make(map[Gid]struct{}, n)
	for _, gid := range seen {
		unique[gid] = struct{}{}
	}
	assert.Len(t, unique, n)
}

func TestGidGeneratorObserveAdvancesPastSeen(t *testing.T) {
	g := NewGidGenerator()
	g.Observe(Gid(100))
	assert.Equal(t, Gid(101), g.Next())
}

func TestGidGeneratorObserveNeverRewindsBelowCurrent(t *testing.T) {
	g := NewGidGenerator()
	g.Next() // 1
	g.Next() // 2
	g.Observe(Gid(1))
	assert.Equal(t, Gid(3), g.Next(), "Observe of a lower id must not rewind the generator")
}

func TestNameMapperInternIsStableAndBidirectional(t *testing.T) {
	m := NewNameMapper()

	first := m.LabelId("Person")
	second := m.LabelId("Person")
	assert.Equal(t, first, second, "interning the same name twice must return the same id")

	name, ok := m.LabelName(first)
	assert.True(t, ok)
	assert.Equal(t, "Person", name)

	_, ok = m.LabelName(LabelId(9999))
	assert.False(t, ok)
}

func TestNameMapperNamespacesAreIndependent(t *testing.T) {
	m := NewNameMapper()
	label := m.LabelId("name")
	prop := m.PropertyId("name")
	edgeType := m.EdgeTypeId("name")

	assert.Equal(t, LabelId(0), label)
	assert.Equal(t, PropertyId(0), prop)
	assert.Equal(t, EdgeTypeId(0), edgeType)

	all := m.AllLabels()
	assert.Contains(t, all, "name")
}

func TestNameMapperLoadInstallsAndAdvancesCounter(t *testing.T) {
	m := NewNameMapper()
	m.LoadLabel("Imported", LabelId(42))

	name, ok := m.LabelName(LabelId(42))
	assert.True(t, ok)
	assert.Equal(t, "Imported", name)

	next := m.LabelId("Fresh")
	assert.Greater(t, uint32(next), uint32(42), "interning after Load must not collide with the loaded id")
}
