package sim

import (
	"fmt"
	"math"
	"sync"

	"PL-64/internal/author"
	"PL-64/internal/author/dev"
	"PL-64/internal/author/params"
	"PL-64/internal/driver"
	"PL-64/internal/ir"
	"PL-64/internal/plan"
)

// View is one kernel argument as the elemental function sees it: Flat
// for plain and reduction args, Vec for vector-indexed args.
type View struct {
	Flat []float64
	Vec  [][]float64
}

// Func is the host rendition of one elemental kernel. ri and ci are
// the row and column indices of the entry nest; both are zero for
// loops without matrix args.
type Func func(args []View, ri, ci int)

type binding struct {
	pl *ir.ParLoop
	fn Func
}

// Device executes launches in process, one goroutine per thread group,
// honoring the schedule tables the way a SIMT device would. Commits to
// global buffers are serialized with a mutex where the device would
// use atomics.
type Device struct {
	caps dev.Caps
	mu   sync.Mutex
	fns  map[string]binding
}

func New(caps dev.Caps) *Device {
	return &Device{
		caps: caps,
		fns:  make(map[string]binding),
	}
}

func (d *Device) Caps() dev.Caps {
	return d.caps
}

// Bind registers the host rendition of a loop's kernel; Compile fails
// on units with no binding.
func (d *Device) Bind(pl *ir.ParLoop, fn Func) {
	d.fns[author.Name(pl)] = binding{pl: pl, fn: fn}
}

func (d *Device) Compile(lang dev.Lang, res *author.Result) (driver.Kernel, error) {
	b, ok := d.fns[res.Name]
	if !ok {
		return nil, fmt.Errorf("no binding for unit %s", res.Name)
	}
	if res.Src == "" {
		return nil, fmt.Errorf("unit %s is empty", res.Name)
	}
	return &kernel{dev: d, pl: b.pl, fn: b.fn, res: res}, nil
}

type kernel struct {
	dev *Device
	pl  *ir.ParLoop
	fn  Func
	res *author.Result
}

// env is the decoded launch argument list.
type env struct {
	setSize     int
	blockOffset int
	data        [][]float64
	mmap        [][]int32
	rowptr      [][]int32
	colidx      [][]int32
	ind         []int32
	loc         []int32
	indSizes    []int32
	indOffs     []int32
	blkMap      []int32
	nelems      []int32
	offset      []int32
	thrCol      []int32
	nThrCol     []int32
}

func (k *kernel) decode(args []driver.Value) (*env, error) {
	fs := params.Formals(k.pl)
	if len(args) != len(fs) {
		return nil, fmt.Errorf("unit %s: %d launch args, want %d",
			k.res.Name, len(args), len(fs))
	}
	ev := &env{}
	for i, f := range fs {
		v := args[i]
		switch f.Kind {
		case params.SetSize:
			ev.setSize = v.Scalar
		case params.Data:
			ev.data = append(ev.data, v.Data)
		case params.MatMap:
			ev.mmap = append(ev.mmap, v.Index)
		case params.RowPtr:
			ev.rowptr = append(ev.rowptr, v.Index)
		case params.ColIdx:
			ev.colidx = append(ev.colidx, v.Index)
		case params.Ind:
			ev.ind = v.Index
		case params.Loc:
			ev.loc = v.Index
		case params.IndSizes:
			ev.indSizes = v.Index
		case params.IndOffs:
			ev.indOffs = v.Index
		case params.BlkMap:
			ev.blkMap = v.Index
		case params.Nelems:
			ev.nelems = v.Index
		case params.Offset:
			ev.offset = v.Index
		case params.ThrCol:
			ev.thrCol = v.Index
		case params.NThrCol:
			ev.nThrCol = v.Index
		case params.BlockOffset:
			ev.blockOffset = v.Scalar
		default:
			panic("bug")
		}
	}
	return ev, nil
}

func (k *kernel) Launch(groups int, args []driver.Value) error {
	ev, err := k.decode(args)
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	wg.Add(groups)
	for g := 0; g < groups; g++ {
		go func(g int) {
			defer wg.Done()
			if k.pl.IsDirect() {
				k.direct(ev, g, groups)
			} else {
				k.indirect(ev, g)
			}
		}(g)
	}
	wg.Wait()
	return nil
}

func carrierIdent(acc ir.Access) float64 {
	switch acc {
	case ir.Min:
		return math.Inf(1)
	case ir.Max:
		return math.Inf(-1)
	}
	return 0
}

// partials allocates the per-group reduction accumulators, keyed by
// arg index.
func (k *kernel) partials() map[int][]float64 {
	parts := make(map[int][]float64)
	for i := range k.pl.Args {
		a := &k.pl.Args[i]
		if !a.IsGlobalReduction() {
			continue
		}
		p := make([]float64, a.Glob.Cdim)
		for d := range p {
			p[d] = carrierIdent(a.Acc)
		}
		parts[i] = p
	}
	return parts
}

// flush writes each partial to the group's slot in the reduction
// buffer. Slots are unique per group, so no lock is needed.
func (k *kernel) flush(ev *env, slot int, parts map[int][]float64) {
	for i, p := range parts {
		buf := ev.data[params.CarrierOf(k.pl, i)]
		copy(buf[slot*len(p):(slot+1)*len(p)], p)
	}
}

// direct runs the group's share of a direct loop: the same elements a
// grid-stride pass with this group count would visit.
func (k *kernel) direct(ev *env, g, groups int) {
	gs := k.res.GroupSize
	parts := k.partials()
	for e := 0; e < ev.setSize; e++ {
		if (e/gs)%groups != g {
			continue
		}
		var views []View
		for i := range k.pl.Args {
			a := &k.pl.Args[i]
			switch {
			case a.IsDat():
				cd := a.Dat.Cdim
				buf := ev.data[params.CarrierOf(k.pl, i)]
				views = append(views, View{Flat: buf[e*cd : (e+1)*cd]})
			case a.IsGlobalReduction():
				views = append(views, View{Flat: parts[i]})
			default:
				views = append(views, View{Flat: ev.data[params.CarrierOf(k.pl, i)]})
			}
		}
		k.fn(views, 0, 0)
	}
	k.flush(ev, g, parts)
}

// indirect runs one partition: stage in, execute the elements in color
// order, stage out, flush reductions.
func (k *kernel) indirect(ev *env, g int) {
	var (
		groups = plan.Groups(k.pl)
		ng     = len(groups)
		b      = int(ev.blkMap[g+ev.blockOffset])
		n      = int(ev.nelems[b])
		off    = int(ev.offset[b])
		ncol   = int(ev.nThrCol[b])
		staged = make([][]float64, ng)
	)
	for gi := range groups {
		gr := &groups[gi]
		var (
			cd   = gr.Dat.Cdim
			sz   = int(ev.indSizes[b*ng+gi])
			base = int(ev.indOffs[b*ng+gi])
			buf  = make([]float64, sz*cd)
			data = k.groupData(ev, gi)
		)
		if k.gathered(gi) {
			for i := range buf {
				buf[i] = data[int(ev.ind[base+i/cd])*cd+i%cd]
			}
		}
		staged[gi] = buf
	}
	parts := k.partials()
	for cc := 0; cc < ncol; cc++ {
		for e := 0; e < n; e++ {
			if int(ev.thrCol[off+e]) != cc {
				continue
			}
			k.element(ev, staged, parts, off+e)
		}
	}
	k.writeBack(ev, staged, b)
	k.flush(ev, ev.blockOffset+g, parts)
}

func (k *kernel) groupData(ev *env, gi int) []float64 {
	gr := &plan.Groups(k.pl)[gi]
	for i := range k.pl.Args {
		a := &k.pl.Args[i]
		if a.Dat == gr.Dat && a.Map == gr.Map {
			return ev.data[params.CarrierOf(k.pl, i)]
		}
	}
	panic("bug")
}

func (k *kernel) gathered(gi int) bool {
	groups := plan.Groups(k.pl)
	gr := &groups[gi]
	if gr.Inc {
		return false
	}
	for i := range k.pl.Args {
		a := &k.pl.Args[i]
		if a.Dat == gr.Dat && a.Map == gr.Map &&
			(a.Acc == ir.Read || a.Acc == ir.RW) {
			return true
		}
	}
	return false
}

func (k *kernel) locOf(ev *env, gi, e, slot int) int {
	groups := plan.Groups(k.pl)
	prev := 0
	for j := 0; j < gi; j++ {
		prev += groups[j].Map.Dim
	}
	return int(ev.loc[ev.setSize*prev+e*groups[gi].Map.Dim+slot])
}

// element resolves the views for one live element and invokes the
// elemental function, nesting over matrix extents when needed.
func (k *kernel) element(ev *env, staged [][]float64, parts map[int][]float64, e int) {
	var (
		views []View
		mats  []int
		entry = map[int][]float64{}
	)
	groups := plan.Groups(k.pl)
	for i := range k.pl.Args {
		a := &k.pl.Args[i]
		switch {
		case a.IsMat():
			mats = append(mats, i)
			entry[i] = make([]float64, 1)
			views = append(views, View{Flat: entry[i]})
		case a.IsIndirect():
			gi := plan.GroupIndex(groups, a)
			cd := a.Dat.Cdim
			if a.Idx == ir.VecIdx {
				vec := make([][]float64, a.Map.Dim)
				for s := range vec {
					l := k.locOf(ev, gi, e, s)
					vec[s] = staged[gi][l*cd : (l+1)*cd]
				}
				views = append(views, View{Vec: vec})
				continue
			}
			l := k.locOf(ev, gi, e, a.Idx)
			views = append(views, View{Flat: staged[gi][l*cd : (l+1)*cd]})
		case a.IsDat():
			cd := a.Dat.Cdim
			buf := ev.data[params.CarrierOf(k.pl, i)]
			views = append(views, View{Flat: buf[e*cd : (e+1)*cd]})
		case a.IsGlobalReduction():
			views = append(views, View{Flat: parts[i]})
		default:
			views = append(views, View{Flat: ev.data[params.CarrierOf(k.pl, i)]})
		}
	}
	if len(mats) == 0 {
		k.fn(views, 0, 0)
		return
	}
	lead := &k.pl.Args[mats[0]]
	for ri := 0; ri < lead.Map.Dim; ri++ {
		for ci := 0; ci < lead.Map2.Dim; ci++ {
			for _, i := range mats {
				entry[i][0] = 0
			}
			k.fn(views, ri, ci)
			for _, i := range mats {
				k.commit(ev, i, e, ri, ci, entry[i][0])
			}
		}
	}
}

// commit scans the compressed row for the column slot and applies the
// entry under the device lock.
func (k *kernel) commit(ev *env, arg, e, ri, ci int, v float64) {
	a := &k.pl.Args[arg]
	var (
		row    = int(ev.mmap[params.MatMapOf(k.pl, a.Map)][e*a.Map.Dim+ri])
		col    = int(ev.mmap[params.MatMapOf(k.pl, a.Map2)][e*a.Map2.Dim+ci])
		sp     = params.SparsityOf(k.pl, a.Mat.Sparsity)
		rowptr = ev.rowptr[sp]
		colidx = ev.colidx[sp]
		vals   = ev.data[params.CarrierOf(k.pl, arg)]
	)
	slot := int(rowptr[row])
	for int(colidx[slot]) != col {
		slot++
	}
	k.dev.mu.Lock()
	if a.Acc == ir.Inc {
		vals[slot] += v
	} else {
		vals[slot] = v
	}
	k.dev.mu.Unlock()
}

// writeBack folds the staged groups into global memory: reduction
// groups add, written groups copy.
func (k *kernel) writeBack(ev *env, staged [][]float64, b int) {
	groups := plan.Groups(k.pl)
	ng := len(groups)
	for gi := range groups {
		gr := &groups[gi]
		add := gr.Inc
		copyOut := false
		for i := range k.pl.Args {
			a := &k.pl.Args[i]
			if a.Dat == gr.Dat && a.Map == gr.Map &&
				(a.Acc == ir.Write || a.Acc == ir.RW) {
				copyOut = true
			}
		}
		if !add && !copyOut {
			continue
		}
		var (
			cd   = gr.Dat.Cdim
			base = int(ev.indOffs[b*ng+gi])
			data = k.groupData(ev, gi)
		)
		k.dev.mu.Lock()
		for i := range staged[gi] {
			t := int(ev.ind[base+i/cd])*cd + i%cd
			if add {
				data[t] += staged[gi][i]
			} else {
				data[t] = staged[gi][i]
			}
		}
		k.dev.mu.Unlock()
	}
}
