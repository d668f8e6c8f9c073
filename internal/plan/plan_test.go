package plan

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"

	"PL-64/internal/ir"
)

const (
	numEle   = 120
	numNodes = 36
	mapDim   = 3
)

// randomLoop mirrors the classic coloring fixture: elements scatter
// increments onto nodes through a random dim-3 map.
func randomLoop(t *testing.T, seed int64) *ir.ParLoop {
	t.Helper()
	elements, err := ir.NewSet(numEle, "elements")
	if err != nil {
		t.Fatal(err)
	}
	nodes, err := ir.NewSet(numNodes, "nodes")
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(seed))
	conn := make([]int32, numEle*mapDim)
	for i := range conn {
		conn[i] = int32(rng.Intn(numNodes))
	}
	m, err := ir.NewMap(elements, nodes, mapDim, conn, "elem2node")
	if err != nil {
		t.Fatal(err)
	}
	x, err := ir.NewDat(nodes, 1, ir.F64, "x", nil)
	if err != nil {
		t.Fatal(err)
	}
	kernel := ir.Kernel{Name: "k", Code: "void k(double** x) {}"}
	pl, err := ir.NewParLoop(kernel, elements, []ir.Arg{
		ir.DatArg(x, m, ir.Inc),
	})
	if err != nil {
		t.Fatal(err)
	}
	return pl
}

func smallCfg() Config {
	return Config{SharedBytes: 64, GroupSize: 8, ColorCap: 128}
}

func TestPartitionBounds(t *testing.T) {
	pl := randomLoop(t, 1)
	cfg := smallCfg()
	sch, err := Build(pl, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if sch.NBlocks < 1 {
		t.Fatal("no partitions")
	}
	covered := 0
	for p := 0; p < sch.NBlocks; p++ {
		if int(sch.Offset[p]) != covered {
			t.Fatalf("partition %d starts at %d, want %d", p, sch.Offset[p], covered)
		}
		if sch.Nelems[p] < 1 {
			t.Fatalf("partition %d is empty", p)
		}
		if int(sch.Shared[p]) > cfg.SharedBytes {
			t.Fatalf("partition %d needs %d staged bytes, budget %d",
				p, sch.Shared[p], cfg.SharedBytes)
		}
		covered += int(sch.Nelems[p])
	}
	if covered != numEle {
		t.Fatalf("partitions cover %d elements, want %d", covered, numEle)
	}
	if sch.MaxShared > cfg.SharedBytes {
		t.Fatalf("MaxShared %d exceeds budget %d", sch.MaxShared, cfg.SharedBytes)
	}
}

func TestPartitionOverflow(t *testing.T) {
	pl := randomLoop(t, 2)
	cfg := Config{SharedBytes: 8, GroupSize: 8, ColorCap: 128}
	_, err := Build(pl, cfg)
	if !errors.Is(err, ErrPartitionOverflow) {
		t.Fatalf("want ErrPartitionOverflow, got %v", err)
	}
}

// mixed element sizes: the footprint charge must cover the 8-byte
// alignment of each group's shared-memory span, not just the raw
// bytes.
func TestPartitionAlignment(t *testing.T) {
	edges, err := ir.NewSet(2, "edges")
	if err != nil {
		t.Fatal(err)
	}
	nodes, err := ir.NewSet(2, "nodes")
	if err != nil {
		t.Fatal(err)
	}
	ident := []int32{0, 1}
	ma, err := ir.NewMap(edges, nodes, 1, ident, "ma")
	if err != nil {
		t.Fatal(err)
	}
	mb, err := ir.NewMap(edges, nodes, 1, ident, "mb")
	if err != nil {
		t.Fatal(err)
	}
	a, err := ir.NewDat(nodes, 1, ir.F32, "a", nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ir.NewDat(nodes, 1, ir.F64, "b", nil)
	if err != nil {
		t.Fatal(err)
	}
	kernel := ir.Kernel{Name: "k", Code: "void k(float* a, double* b) {}"}
	pl, err := ir.NewParLoop(kernel, edges, []ir.Arg{
		ir.DatIdxArg(a, ma, 0, ir.Inc),
		ir.DatIdxArg(b, mb, 0, ir.Inc),
	})
	if err != nil {
		t.Fatal(err)
	}
	// one element stages 4 + 8 bytes, but the f64 group starts at
	// offset 8, so the true footprint is 16
	cfg := Config{SharedBytes: 12, GroupSize: 8, ColorCap: 128}
	if _, err := Build(pl, cfg); !errors.Is(err, ErrPartitionOverflow) {
		t.Fatalf("budget below the aligned footprint: want ErrPartitionOverflow, got %v", err)
	}
	cfg.SharedBytes = 16
	sch, err := Build(pl, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if sch.NBlocks != 2 {
		t.Fatalf("NBlocks = %d, want 2", sch.NBlocks)
	}
	for p := 0; p < sch.NBlocks; p++ {
		if int(sch.Shared[p]) != 16 {
			t.Fatalf("partition %d charged %d bytes, want 16", p, sch.Shared[p])
		}
	}
}

func TestStagingTables(t *testing.T) {
	pl := randomLoop(t, 3)
	sch, err := Build(pl, smallCfg())
	if err != nil {
		t.Fatal(err)
	}
	m := pl.Args[0].Map
	ng := len(sch.Groups)
	if ng != 1 {
		t.Fatalf("groups: %d, want 1", ng)
	}
	for p := 0; p < sch.NBlocks; p++ {
		var (
			sz   = int(sch.IndSizes[p*ng])
			base = int(sch.IndOffs[p*ng])
			off  = int(sch.Offset[p])
			n    = int(sch.Nelems[p])
		)
		seen := make(map[int32]bool)
		for i := 0; i < sz; i++ {
			tgt := sch.Ind[base+i]
			if seen[tgt] {
				t.Fatalf("partition %d stages node %d twice", p, tgt)
			}
			seen[tgt] = true
		}
		for e := off; e < off+n; e++ {
			for k := 0; k < mapDim; k++ {
				want := m.Values[e*mapDim+k]
				l := int(sch.Loc[e*mapDim+k])
				if l < 0 || l >= sz {
					t.Fatalf("partition %d: local index %d outside [0,%d)", p, l, sz)
				}
				if got := sch.Ind[base+l]; got != want {
					t.Fatalf("element %d slot %d remaps to node %d, want %d", e, k, got, want)
				}
			}
		}
	}
}

// one increment target per color per partition, the soundness property
// the whole execution model rests on.
func TestColoringSound(t *testing.T) {
	pl := randomLoop(t, 4)
	sch, err := Build(pl, smallCfg())
	if err != nil {
		t.Fatal(err)
	}
	m := pl.Args[0].Map
	for p := 0; p < sch.NBlocks; p++ {
		var (
			off  = int(sch.Offset[p])
			n    = int(sch.Nelems[p])
			ncol = int(sch.NThrCol[p])
		)
		if ncol < 1 {
			t.Fatalf("partition %d has no colors", p)
		}
		for cc := 0; cc < ncol; cc++ {
			writes := make(map[int32]int)
			for e := off; e < off+n; e++ {
				if int(sch.ThrCol[e]) != cc {
					continue
				}
				// a random map can list a node twice within one
				// element; only cross-element sharing is a conflict
				mine := make(map[int32]bool)
				for k := 0; k < mapDim; k++ {
					mine[m.Values[e*mapDim+k]] = true
				}
				for node := range mine {
					writes[node]++
				}
			}
			for node, w := range writes {
				if w > 1 {
					t.Fatalf("partition %d color %d writes node %d %d times", p, cc, node, w)
				}
			}
		}
		for e := off; e < off+n; e++ {
			if c := int(sch.ThrCol[e]); c < 0 || c >= ncol {
				t.Fatalf("element %d has color %d outside [0,%d)", e, c, ncol)
			}
		}
	}
}

func TestDeterminism(t *testing.T) {
	pl := randomLoop(t, 5)
	a, err := Build(pl, smallCfg())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Build(pl, smallCfg())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatal("same loop, same config, different schedules")
	}
}

func TestReadOnlyNeedsOneColor(t *testing.T) {
	pl := randomLoop(t, 6)
	pl.Args[0].Acc = ir.Read
	sch, err := Build(pl, smallCfg())
	if err != nil {
		t.Fatal(err)
	}
	if sch.MaxColors != 1 {
		t.Fatalf("read-only loop colored with %d colors", sch.MaxColors)
	}
	if len(sch.Degenerate) != 0 {
		t.Fatal("read-only loop marked degenerate")
	}
}

func TestColorCapSerializes(t *testing.T) {
	pl := randomLoop(t, 7)
	cfg := smallCfg()
	cfg.ColorCap = 1
	sch, err := Build(pl, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(sch.Degenerate) == 0 {
		t.Fatal("color cap 1 produced no degenerate partitions")
	}
	for _, p := range sch.Degenerate {
		var (
			off = int(sch.Offset[p])
			n   = int(sch.Nelems[p])
		)
		if int(sch.NThrCol[p]) != n {
			t.Fatalf("degenerate partition %d has %d colors, want %d", p, sch.NThrCol[p], n)
		}
		for e := off; e < off+n; e++ {
			if int(sch.ThrCol[e]) != e-off {
				t.Fatalf("degenerate partition %d is not serialized", p)
			}
		}
	}
	if len(sch.Warnings()) != len(sch.Degenerate) {
		t.Fatal("one warning per degenerate partition expected")
	}
}

func TestCache(t *testing.T) {
	pl := randomLoop(t, 8)
	cache := NewCache()
	a, err := cache.Get(pl, smallCfg())
	if err != nil {
		t.Fatal(err)
	}
	b, err := cache.Get(pl, smallCfg())
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("second Get rebuilt the schedule")
	}
	if cache.Len() != 1 {
		t.Fatalf("cache holds %d schedules, want 1", cache.Len())
	}
	other := smallCfg()
	other.GroupSize = 16
	c, err := cache.Get(pl, other)
	if err != nil {
		t.Fatal(err)
	}
	if c == a {
		t.Fatal("different config reused a schedule")
	}
	cache.Invalidate(pl.PlanSig())
	if cache.Len() != 0 {
		t.Fatal("Invalidate left schedules behind")
	}
	d, err := cache.Get(pl, smallCfg())
	if err != nil {
		t.Fatal(err)
	}
	if d == a {
		t.Fatal("invalidated schedule came back")
	}
}
