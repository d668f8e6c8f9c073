package driver

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"PL-64/internal/author"
	"PL-64/internal/author/dev"
	"PL-64/internal/author/params"
	"PL-64/internal/ir"
	"PL-64/internal/plan"
)

var ErrKernelCompile = errors.New("kernel compilation failed")

// CompileError carries the backend's log together with the full
// generated source, so a failing unit can be inspected as-is.
type CompileError struct {
	Name string
	Log  string
	Src  string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Log)
}

func (e *CompileError) Unwrap() error {
	return ErrKernelCompile
}

// Value is one launch argument: a scalar, an element buffer, or an
// index table. Exactly one field is meaningful per formal.
type Value struct {
	Scalar int
	Data   []float64
	Index  []int32
}

type Kernel interface {
	Launch(groups int, args []Value) error
}

type Device interface {
	Caps() dev.Caps
	Compile(lang dev.Lang, res *author.Result) (Kernel, error)
}

type compiled struct {
	res *author.Result
	k   Kernel
}

type kernelKey struct {
	sig  ir.Signature
	lang dev.Lang
	cfg  plan.Config
}

// Exec runs loops on one device: it owns the schedule cache and the
// compiled-kernel cache and finalizes reductions on the host.
type Exec struct {
	device  Device
	lang    dev.Lang
	cfg     plan.Config
	plans   *plan.Cache
	mu      sync.Mutex
	kernels map[kernelKey]*compiled
}

func New(device Device, lang dev.Lang, cfg plan.Config) (*Exec, error) {
	gs := cfg.GroupSize
	if gs <= 0 || gs&(gs-1) != 0 {
		return nil, fmt.Errorf("group size %d is not a positive power of two", gs)
	}
	if cfg.SharedBytes <= 0 || cfg.ColorCap <= 0 {
		return nil, fmt.Errorf("config: shared bytes %d, color cap %d",
			cfg.SharedBytes, cfg.ColorCap)
	}
	caps := device.Caps()
	if caps.MaxGroups < 1 {
		return nil, fmt.Errorf("device: max groups %d", caps.MaxGroups)
	}
	if cfg.SharedBytes > caps.SharedBytes {
		return nil, fmt.Errorf("config: %d shared bytes exceed the device's %d",
			cfg.SharedBytes, caps.SharedBytes)
	}
	return &Exec{
		device:  device,
		lang:    lang,
		cfg:     cfg,
		plans:   plan.NewCache(),
		kernels: make(map[kernelKey]*compiled),
	}, nil
}

// Invalidate drops schedules derived from the loop's current map
// structure; call it after rewriting map values in place.
func (x *Exec) Invalidate(pl *ir.ParLoop) {
	x.plans.Invalidate(pl.PlanSig())
}

// Schedule exposes the loop's schedule, building it on a miss. Direct
// loops have none.
func (x *Exec) Schedule(pl *ir.ParLoop) (*plan.Schedule, error) {
	if pl.IsDirect() {
		return nil, nil
	}
	return x.plans.Get(pl, x.cfg)
}

func (x *Exec) Run(pl *ir.ParLoop) error {
	if pl.Set.Size == 0 {
		return nil
	}
	ck, err := x.kernel(pl)
	if err != nil {
		return err
	}
	if pl.IsDirect() {
		return x.runDirect(pl, ck)
	}
	return x.runIndirect(pl, ck)
}

func (x *Exec) kernel(pl *ir.ParLoop) (*compiled, error) {
	key := kernelKey{sig: pl.Sig(), lang: x.lang, cfg: x.cfg}
	x.mu.Lock()
	ck, ok := x.kernels[key]
	x.mu.Unlock()
	if ok {
		return ck, nil
	}
	res := author.Implement(pl, x.lang, x.device.Caps(), x.cfg)
	k, err := x.device.Compile(x.lang, res)
	if err != nil {
		return nil, &CompileError{Name: res.Name, Log: err.Error(), Src: res.Src}
	}
	ck = &compiled{res: res, k: k}
	x.mu.Lock()
	if prev, ok := x.kernels[key]; ok {
		ck = prev
	} else {
		x.kernels[key] = ck
	}
	x.mu.Unlock()
	return ck, nil
}

// redSlot is one reduction global's per-group partial buffer for the
// duration of a run.
type redSlot struct {
	carrier int
	glob    *ir.Global
	acc     ir.Access
	buf     []float64
}

func identity(acc ir.Access) float64 {
	switch acc {
	case ir.Inc:
		return 0
	case ir.Min:
		return math.Inf(1)
	case ir.Max:
		return math.Inf(-1)
	}
	panic("bug")
}

func fold(acc ir.Access, a, b float64) float64 {
	switch acc {
	case ir.Inc:
		return a + b
	case ir.Min:
		return math.Min(a, b)
	case ir.Max:
		return math.Max(a, b)
	}
	panic("bug")
}

func redSlots(pl *ir.ParLoop, groups int) []redSlot {
	var slots []redSlot
	for i := range pl.Args {
		a := &pl.Args[i]
		if !a.IsGlobalReduction() {
			continue
		}
		ci := params.CarrierOf(pl, i)
		found := false
		for _, s := range slots {
			if s.carrier == ci {
				found = true
				break
			}
		}
		if found {
			continue
		}
		buf := make([]float64, groups*a.Glob.Cdim)
		for j := range buf {
			buf[j] = identity(a.Acc)
		}
		slots = append(slots, redSlot{carrier: ci, glob: a.Glob, acc: a.Acc, buf: buf})
	}
	return slots
}

func finalize(slots []redSlot) {
	for _, s := range slots {
		cdim := s.glob.Cdim
		for d := 0; d < cdim; d++ {
			part := identity(s.acc)
			for g := 0; g*cdim+d < len(s.buf); g++ {
				part = fold(s.acc, part, s.buf[g*cdim+d])
			}
			s.glob.Data[d] = fold(s.acc, s.glob.Data[d], part)
		}
	}
}

// values assembles the launch argument list in formal order. The
// BlockOffset slot is patched per launch.
func (x *Exec) values(pl *ir.ParLoop, sch *plan.Schedule, slots []redSlot) []Value {
	cs := params.Carriers(pl)
	mms := params.MatMaps(pl)
	sps := params.Sparsities(pl)
	var vals []Value
	for _, f := range params.Formals(pl) {
		switch f.Kind {
		case params.SetSize:
			vals = append(vals, Value{Scalar: pl.Set.Size})
		case params.Data:
			c := &cs[f.Ref]
			var buf []float64
			switch {
			case c.Dat != nil:
				buf = c.Dat.Data
			case c.Mat != nil:
				buf = c.Mat.Values
			default:
				buf = c.Glob.Data
				for _, s := range slots {
					if s.carrier == f.Ref {
						buf = s.buf
						break
					}
				}
			}
			vals = append(vals, Value{Data: buf})
		case params.MatMap:
			vals = append(vals, Value{Index: mms[f.Ref].Values})
		case params.RowPtr:
			vals = append(vals, Value{Index: sps[f.Ref].RowPtr})
		case params.ColIdx:
			vals = append(vals, Value{Index: sps[f.Ref].ColIdx})
		case params.Ind:
			vals = append(vals, Value{Index: sch.Ind})
		case params.Loc:
			vals = append(vals, Value{Index: sch.Loc})
		case params.IndSizes:
			vals = append(vals, Value{Index: sch.IndSizes})
		case params.IndOffs:
			vals = append(vals, Value{Index: sch.IndOffs})
		case params.BlkMap:
			vals = append(vals, Value{Index: sch.BlkMap})
		case params.Nelems:
			vals = append(vals, Value{Index: sch.Nelems})
		case params.Offset:
			vals = append(vals, Value{Index: sch.Offset})
		case params.ThrCol:
			vals = append(vals, Value{Index: sch.ThrCol})
		case params.NThrCol:
			vals = append(vals, Value{Index: sch.NThrCol})
		case params.BlockOffset:
			vals = append(vals, Value{Scalar: 0})
		default:
			panic("bug")
		}
	}
	return vals
}

func (x *Exec) runDirect(pl *ir.ParLoop, ck *compiled) error {
	gs := ck.res.GroupSize
	groups := (pl.Set.Size + gs - 1) / gs
	if max := x.device.Caps().MaxGroups; groups > max {
		groups = max
	}
	slots := redSlots(pl, groups)
	vals := x.values(pl, nil, slots)
	if err := ck.k.Launch(groups, vals); err != nil {
		return err
	}
	finalize(slots)
	return nil
}

func (x *Exec) runIndirect(pl *ir.ParLoop, ck *compiled) error {
	sch, err := x.plans.Get(pl, x.cfg)
	if err != nil {
		return err
	}
	slots := redSlots(pl, sch.NBlocks)
	vals := x.values(pl, sch, slots)
	max := x.device.Caps().MaxGroups
	last := len(vals) - 1
	for base := 0; base < sch.NBlocks; base += max {
		groups := sch.NBlocks - base
		if groups > max {
			groups = max
		}
		vals[last] = Value{Scalar: base}
		if err := ck.k.Launch(groups, vals); err != nil {
			return err
		}
	}
	finalize(slots)
	return nil
}
