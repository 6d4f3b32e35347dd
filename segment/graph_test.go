package segment

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func TestNewSymmetrizesAdjacency(t *testing.T) {
	g := New(map[string][]string{
		"RING-NORTH-12":  {"RING-SOUTH-09", "CITY-CENTER-01", "RING-NORTH-12"},
		"CITY-CENTER-01": {"RING-SOUTH-09", "RING-SOUTH-09"},
	})

	for _, id := range g.Segments() {
		for _, n := range g.Neighbors(id) {
			if n == id {
				t.Errorf("%s lists itself as neighbor", id)
			}
			found := false
			for _, back := range g.Neighbors(n) {
				if back == id {
					found = true
				}
			}
			if !found {
				t.Errorf("%s -> %s has no reverse edge", id, n)
			}
		}
	}

	if got := g.Neighbors("CITY-CENTER-01"); len(got) != 2 {
		t.Errorf("CITY-CENTER-01 neighbors = %v, want 2 distinct entries", got)
	}
	if g.EdgeCount() != 3 {
		t.Errorf("EdgeCount() = %d, want 3", g.EdgeCount())
	}
}

func TestLinearChainOrdering(t *testing.T) {
	g := LinearChain([]string{"S10", "S2", "S1", "S2", ""})

	want := []string{"S1", "S2", "S10"}
	if got := g.Segments(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Segments() = %v, want %v", got, want)
	}
	if got := g.Neighbors("S2"); !reflect.DeepEqual(got, []string{"S1", "S10"}) {
		t.Errorf("Neighbors(S2) = %v", got)
	}
	if got := g.Neighbors("S1"); !reflect.DeepEqual(got, []string{"S2"}) {
		t.Errorf("Neighbors(S1) = %v", got)
	}
}

func TestBFSWithin(t *testing.T) {
	ring := New(map[string][]string{
		"A": {"B"},
		"B": {"C"},
		"C": {"D"},
		"D": {"A"},
		"E": {"D"},
	})

	t.Run("zero hops is origin only", func(t *testing.T) {
		if got := ring.BFSWithin("A", 0); !reflect.DeepEqual(got, []string{"A"}) {
			t.Errorf("BFSWithin(A, 0) = %v", got)
		}
	})

	t.Run("unknown origin is still returned", func(t *testing.T) {
		if got := ring.BFSWithin("Z", 3); !reflect.DeepEqual(got, []string{"Z"}) {
			t.Errorf("BFSWithin(Z, 3) = %v", got)
		}
	})

	t.Run("cycle terminates without duplicates", func(t *testing.T) {
		got := ring.BFSWithin("A", 50)
		seen := map[string]bool{}
		for _, id := range got {
			if seen[id] {
				t.Fatalf("duplicate %s in %v", id, got)
			}
			seen[id] = true
		}
		if len(got) != 5 {
			t.Errorf("BFSWithin(A, 50) = %v, want all 5 segments", got)
		}
	})

	t.Run("ordered by hops then id", func(t *testing.T) {
		want := []string{"A", "B", "D", "C", "E"}
		if got := ring.BFSWithin("A", 2); !reflect.DeepEqual(got, want) {
			t.Errorf("BFSWithin(A, 2) = %v, want %v", got, want)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		first := ring.BFSWithin("B", 2)
		second := ring.BFSWithin("B", 2)
		if !reflect.DeepEqual(first, second) {
			t.Errorf("BFSWithin not idempotent: %v vs %v", first, second)
		}
	})
}

func TestHopDistance(t *testing.T) {
	ids := make([]string, 0, 20)
	for i := 1; i <= 20; i++ {
		ids = append(ids, fmt.Sprintf("NSB_%03d", i))
	}
	g := LinearChain(ids)

	tests := []struct {
		a, b string
		want int
	}{
		{"NSB_005", "NSB_005", 0},
		{"NSB_005", "NSB_006", 1},
		{"NSB_005", "NSB_002", 3},
		{"NSB_001", "NSB_011", 10},
		{"NSB_001", "NSB_015", Unreachable},
		{"NSB_001", "MISSING", Unreachable},
	}
	for _, tt := range tests {
		t.Run(tt.a+"->"+tt.b, func(t *testing.T) {
			if got := g.HopDistance(tt.a, tt.b); got != tt.want {
				t.Errorf("HopDistance(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestHolderSwap(t *testing.T) {
	h := NewHolder(LinearChain([]string{"S1", "S2"}))
	before := h.Load()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g := h.Load()
			_ = g.BFSWithin("S1", 3)
		}()
	}
	prev := h.Swap(LinearChain([]string{"S1", "S2", "S3"}))
	wg.Wait()

	if prev != before {
		t.Error("Swap should return the previously installed graph")
	}
	if before.Len() != 2 {
		t.Errorf("old graph mutated: Len() = %d", before.Len())
	}
	if h.Load().Len() != 3 {
		t.Errorf("new graph Len() = %d, want 3", h.Load().Len())
	}
}
