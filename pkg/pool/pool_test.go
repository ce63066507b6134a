package pool

import (
	"sync"
	"testing"
)

func TestConfigure(t *testing.T) {
	orig := globalConfig
	defer Configure(orig)

	Configure(Config{Enabled: true, MaxRetained: 500})
	if !IsEnabled() {
		t.Error("IsEnabled() = false, want true")
	}

	Configure(Config{Enabled: false, MaxRetained: 1000})
	if IsEnabled() {
		t.Error("IsEnabled() = true, want false")
	}
}

func newIntSlicePool() *Pool[*[]int] {
	return New(
		func() *[]int { s := make([]int, 0, 8); return &s },
		func(s *[]int) { *s = (*s)[:0] },
	)
}

func TestPoolGetPut(t *testing.T) {
	orig := globalConfig
	defer Configure(orig)
	Configure(Config{Enabled: true, MaxRetained: 1000})

	p := newIntSlicePool()

	s := p.Get()
	if len(*s) != 0 {
		t.Errorf("len = %d, want 0", len(*s))
	}
	*s = append(*s, 1, 2, 3)
	p.Put(s)

	s2 := p.Get()
	if len(*s2) != 0 {
		t.Errorf("reused slice len = %d, want 0", len(*s2))
	}
}

func TestPoolDisabledStillAllocates(t *testing.T) {
	orig := globalConfig
	defer Configure(orig)
	Configure(Config{Enabled: false, MaxRetained: 1000})

	p := newIntSlicePool()
	s := p.Get()
	if s == nil {
		t.Error("Get returned nil when pooling disabled")
	}
	p.Put(s) // must not panic
}

func TestGraveyardDelaysReuseByOneEpoch(t *testing.T) {
	orig := globalConfig
	defer Configure(orig)
	Configure(Config{Enabled: true, MaxRetained: 1000})

	var returned []*int
	backing := New(
		func() *int { v := 0; return &v },
		func(v *int) { returned = append(returned, v) },
	)
	g := NewGraveyard(backing)

	v := new(int)
	g.Bury(v)

	g.Advance() // rotates; v's generation is not yet freed
	if len(returned) != 0 {
		t.Fatalf("Bury+Advance once freed %d values, want 0", len(returned))
	}

	g.Advance() // now a full epoch has elapsed since Bury
	if len(returned) != 1 {
		t.Fatalf("Bury+Advance twice freed %d values, want 1", len(returned))
	}
}

func TestGraveyardConcurrentBury(t *testing.T) {
	orig := globalConfig
	defer Configure(orig)
	Configure(Config{Enabled: true, MaxRetained: 1000})

	backing := New(
		func() *int { v := 0; return &v },
		func(*int) {},
	)
	g := NewGraveyard(backing)

	const goroutines = 50
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(n int) {
			defer wg.Done()
			v := n
			g.Bury(&v)
		}(i)
	}
	wg.Wait()
	g.Advance()
	g.Advance()
}

func BenchmarkPoolGetPut(b *testing.B) {
	Configure(Config{Enabled: true, MaxRetained: 1000})
	p := newIntSlicePool()

	b.Run("pooled", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			s := p.Get()
			*s = append(*s, 1, 2, 3)
			p.Put(s)
		}
	})

	b.Run("unpooled", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			s := make([]int, 0, 8)
			s = append(s, 1, 2, 3)
			_ = s
		}
	})
}
