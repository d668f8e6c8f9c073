package plan

import (
	"errors"
	"fmt"
	"sort"

	"PL-64/internal/ir"
)

var ErrPartitionOverflow = errors.New("partition overflow")

type Config struct {
	SharedBytes int
	GroupSize   int
	ColorCap    int
}

var Default = Config{
	SharedBytes: 48 * 1024,
	GroupSize:   64,
	ColorCap:    128,
}

// Group is one staging unit: all args that reach the same Dat through
// the same Map share one compact index list and one shared-memory
// slice.
type Group struct {
	Dat *ir.Dat
	Map *ir.Map
	Inc bool
}

func (g *Group) SlotBytes() int {
	return g.Dat.Cdim * g.Dat.Elem.Bytes()
}

type Schedule struct {
	Sig    ir.Signature
	Cfg    Config
	Groups []Group

	NBlocks  int
	Nelems   []int32
	Offset   []int32
	BlkMap   []int32
	IndBase  []int32
	IndSizes []int32
	IndOffs  []int32
	Ind      []int32
	LocBase  []int32
	Loc      []int32
	ThrCol   []int32
	NThrCol  []int32
	Shared   []int32

	MaxShared int
	MaxColors int

	// Degenerate lists partitions whose color count exceeded the cap
	// and were serialized instead. Correctness is preserved; only
	// parallelism is lost.
	Degenerate []int
}

func (s *Schedule) Warnings() []string {
	var w []string
	for _, p := range s.Degenerate {
		w = append(w, fmt.Sprintf(
			"coloring degenerate: partition %d exceeded the color cap %d and runs serialized (%d elements)",
			p, s.Cfg.ColorCap, s.Nelems[p]))
	}
	return w
}

func Build(pl *ir.ParLoop, cfg Config) (*Schedule, error) {
	if pl.IsDirect() {
		panic("bug")
	}
	if cfg.SharedBytes <= 0 || cfg.GroupSize <= 0 || cfg.ColorCap <= 0 {
		panic("bug")
	}
	for i := range pl.Args {
		a := &pl.Args[i]
		for _, m := range [2]*ir.Map{a.Map, a.Map2} {
			if m == nil {
				continue
			}
			if err := m.RangeCheck(); err != nil {
				return nil, err
			}
		}
	}
	st := &state{
		pl:     pl,
		cfg:    cfg,
		groups: Groups(pl),
	}
	if err := st.stages(); err != nil {
		return nil, err
	}
	return st.sched, nil
}

type state struct {
	pl     *ir.ParLoop
	cfg    Config
	groups []Group
	parts  []span
	sched  *Schedule
}

type span struct {
	offset int
	count  int
	shared int
}

var stages = [...]func(*state) error{
	(*state).stage1,
	(*state).stage2,
	(*state).stage3,
	(*state).stage4,
}

func (st *state) stages() error {
	for _, stage := range &stages {
		if err := stage(st); err != nil {
			return err
		}
	}
	return nil
}

// Groups derives the staging groups of a loop from its args alone, so
// kernel synthesis can agree on the layout without building a schedule.
func Groups(pl *ir.ParLoop) []Group {
	var groups []Group
	for i := range pl.Args {
		a := &pl.Args[i]
		if !a.IsIndirect() {
			continue
		}
		found := false
		for j := range groups {
			if groups[j].Dat == a.Dat && groups[j].Map == a.Map {
				groups[j].Inc = groups[j].Inc || a.Acc.IsReduction()
				found = true
				break
			}
		}
		if !found {
			groups = append(groups, Group{
				Dat: a.Dat,
				Map: a.Map,
				Inc: a.Acc.IsReduction(),
			})
		}
	}
	return groups
}

// GroupIndex resolves an indirect dat arg to its staging group index.
func GroupIndex(groups []Group, a *ir.Arg) int {
	for j := range groups {
		if groups[j].Dat == a.Dat && groups[j].Map == a.Map {
			return j
		}
	}
	panic("bug")
}

func (s *Schedule) GroupOf(a *ir.Arg) int {
	return GroupIndex(s.Groups, a)
}

func align8(n int) int {
	return (n + 7) &^ 7
}

// stage1 partitions the iteration set greedily: extend the current
// partition while the staged footprint of its distinct indirect
// targets stays under the shared-memory budget. Each group's span is
// charged rounded up to 8 bytes, matching the kernel's shared-memory
// layout.
func (st *state) stage1() error {
	var (
		n  = st.pl.Set.Size
		ng = len(st.groups)
	)
	seen := make([]map[int32]bool, ng)
	for g := range seen {
		seen[g] = make(map[int32]bool)
	}
	var (
		cnt   = make([]int, ng)
		fresh = make([]int, ng)
		foot  = 0
		open  = span{}
	)
	flush := func() {
		open.shared = foot
		st.parts = append(st.parts, open)
		open = span{offset: open.offset + open.count}
		foot = 0
		for g := range seen {
			seen[g] = make(map[int32]bool)
			cnt[g] = 0
		}
	}
	for e := 0; e < n; e++ {
		newFoot := 0
		for g := range st.groups {
			gr := &st.groups[g]
			fresh[g] = 0
			for k := 0; k < gr.Map.Dim; k++ {
				t := gr.Map.Values[e*gr.Map.Dim+k]
				if !seen[g][t] {
					seen[g][t] = true
					fresh[g]++
				}
			}
			newFoot += align8((cnt[g] + fresh[g]) * gr.SlotBytes())
		}
		if newFoot > st.cfg.SharedBytes {
			if open.count == 0 {
				return fmt.Errorf(
					"%w: element %d of set %s needs %d staged bytes, budget is %d",
					ErrPartitionOverflow, e, st.pl.Set.Name, newFoot, st.cfg.SharedBytes)
			}
			flush()
			e--
			continue
		}
		for g := range st.groups {
			cnt[g] += fresh[g]
		}
		foot = newFoot
		open.count++
	}
	if open.count > 0 || len(st.parts) == 0 {
		flush()
	}
	return nil
}

// stage2 builds, per partition and staging group, the compact list of
// distinct global targets and the local remap for every map slot.
func (st *state) stage2() error {
	var (
		ng     = len(st.groups)
		nb     = len(st.parts)
		sch    = &Schedule{Sig: st.pl.PlanSig(), Cfg: st.cfg, Groups: st.groups}
		locLen = 0
	)
	sch.NBlocks = nb
	sch.Nelems = make([]int32, nb)
	sch.Offset = make([]int32, nb)
	sch.BlkMap = make([]int32, nb)
	sch.Shared = make([]int32, nb)
	sch.IndBase = make([]int32, ng+1)
	sch.IndSizes = make([]int32, nb*ng)
	sch.IndOffs = make([]int32, nb*ng)
	sch.LocBase = make([]int32, ng+1)
	for g := range st.groups {
		sch.LocBase[g+1] = sch.LocBase[g] + int32(st.pl.Set.Size*st.groups[g].Map.Dim)
	}
	locLen = int(sch.LocBase[ng])
	sch.Loc = make([]int32, locLen)
	for p, sp := range st.parts {
		sch.Nelems[p] = int32(sp.count)
		sch.Offset[p] = int32(sp.offset)
		sch.BlkMap[p] = int32(p)
		sch.Shared[p] = int32(sp.shared)
		if sp.shared > sch.MaxShared {
			sch.MaxShared = sp.shared
		}
	}
	perGroup := make([][]int32, ng)
	for g := range st.groups {
		gr := &st.groups[g]
		local := make(map[int32]int32)
		for p, sp := range st.parts {
			for t := range local {
				delete(local, t)
			}
			var compact []int32
			for e := sp.offset; e < sp.offset+sp.count; e++ {
				for k := 0; k < gr.Map.Dim; k++ {
					t := gr.Map.Values[e*gr.Map.Dim+k]
					l, ok := local[t]
					if !ok {
						l = int32(len(compact))
						local[t] = l
						compact = append(compact, t)
					}
					sch.Loc[sch.LocBase[g]+int32(e*gr.Map.Dim+k)] = l
				}
			}
			sch.IndSizes[p*ng+g] = int32(len(compact))
			sch.IndOffs[p*ng+g] = int32(len(perGroup[g]))
			perGroup[g] = append(perGroup[g], compact...)
		}
	}
	for g := range perGroup {
		sch.IndBase[g+1] = sch.IndBase[g] + int32(len(perGroup[g]))
		sch.Ind = append(sch.Ind, perGroup[g]...)
	}
	// IndOffs entries become absolute offsets into Ind, so kernels
	// index it without knowing per-group bases.
	for p := 0; p < nb; p++ {
		for g := 0; g < ng; g++ {
			sch.IndOffs[p*ng+g] += sch.IndBase[g]
		}
	}
	st.sched = sch
	return nil
}

type conflictArg struct {
	m     *ir.Map
	group int
}

// stage3 colors each partition: two iterations conflict when any of
// their reduction targets coincide; a greedy left-to-right pass gives
// every iteration the smallest color above all conflicting colors
// seen so far.
func (st *state) stage3() error {
	var (
		confl []conflictArg
		mats  []*ir.Mat
	)
	for i := range st.pl.Args {
		a := &st.pl.Args[i]
		switch {
		case a.IsIndirect() && a.Acc.IsReduction():
			confl = append(confl, conflictArg{m: a.Map, group: st.sched.GroupOf(a)})
		case a.IsMat() && a.Acc.IsReduction():
			slot := -1
			for j, m := range mats {
				if m == a.Mat {
					slot = j
					break
				}
			}
			if slot < 0 {
				slot = len(mats)
				mats = append(mats, a.Mat)
			}
			confl = append(confl, conflictArg{m: a.Map, group: len(st.groups) + slot})
		}
	}
	sch := st.sched
	sch.ThrCol = make([]int32, st.pl.Set.Size)
	sch.NThrCol = make([]int32, len(st.parts))
	if len(confl) == 0 {
		for p := range st.parts {
			sch.NThrCol[p] = 1
		}
		sch.MaxColors = 1
		return nil
	}
	last := make(map[int64]int32)
	for p, sp := range st.parts {
		for k := range last {
			delete(last, k)
		}
		ncol := int32(0)
		for e := sp.offset; e < sp.offset+sp.count; e++ {
			// c climbs monotonically over the element's targets: one
			// above the highest conflicting color, not the smallest
			// free color
			c := int32(0)
			for _, ca := range confl {
				for k := 0; k < ca.m.Dim; k++ {
					key := int64(ca.group)<<32 | int64(ca.m.Values[e*ca.m.Dim+k])
					if v, ok := last[key]; ok && v >= c {
						c = v + 1
					}
				}
			}
			for _, ca := range confl {
				for k := 0; k < ca.m.Dim; k++ {
					key := int64(ca.group)<<32 | int64(ca.m.Values[e*ca.m.Dim+k])
					last[key] = c
				}
			}
			sch.ThrCol[e] = c
			if c+1 > ncol {
				ncol = c + 1
			}
		}
		if int(ncol) > st.cfg.ColorCap {
			for e := sp.offset; e < sp.offset+sp.count; e++ {
				sch.ThrCol[e] = int32(e - sp.offset)
			}
			ncol = int32(sp.count)
			sch.Degenerate = append(sch.Degenerate, p)
		}
		sch.NThrCol[p] = ncol
		if int(ncol) > sch.MaxColors {
			sch.MaxColors = int(ncol)
		}
	}
	return nil
}

func (st *state) stage4() error {
	sort.Ints(st.sched.Degenerate)
	return nil
}
