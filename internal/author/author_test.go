package author

import (
	"strings"
	"testing"

	"PL-64/internal/author/dev"
	"PL-64/internal/author/params"
	"PL-64/internal/ir"
	"PL-64/internal/plan"
)

func caps(f64 bool) dev.Caps {
	return dev.Caps{
		AtomicF32:   true,
		AtomicF64:   f64,
		SharedBytes: 48 * 1024,
		MaxGroups:   1 << 15,
	}
}

func directLoop(t *testing.T) *ir.ParLoop {
	t.Helper()
	set, err := ir.NewSet(100, "cells")
	if err != nil {
		t.Fatal(err)
	}
	x, err := ir.NewDat(set, 2, ir.F64, "x", nil)
	if err != nil {
		t.Fatal(err)
	}
	total, err := ir.NewGlobal(1, ir.F64, "total", nil)
	if err != nil {
		t.Fatal(err)
	}
	alpha, err := ir.NewConst(1, ir.F64, "alpha", []float64{2})
	if err != nil {
		t.Fatal(err)
	}
	kernel := ir.Kernel{
		Name: "scale",
		Code: "void scale(double* x, double* total) { x[0] *= alpha; total[0] += x[0]; }",
	}
	pl, err := ir.NewParLoop(kernel, set, []ir.Arg{
		ir.DatArg(x, nil, ir.RW),
		ir.GlobalArg(total, ir.Inc),
	}, alpha)
	if err != nil {
		t.Fatal(err)
	}
	return pl
}

func indirectLoop(t *testing.T) *ir.ParLoop {
	t.Helper()
	edges, err := ir.NewSet(8, "edges")
	if err != nil {
		t.Fatal(err)
	}
	nodes, err := ir.NewSet(9, "nodes")
	if err != nil {
		t.Fatal(err)
	}
	conn := make([]int32, 16)
	for e := 0; e < 8; e++ {
		conn[e*2] = int32(e)
		conn[e*2+1] = int32(e + 1)
	}
	end, err := ir.NewMap(edges, nodes, 2, conn, "end")
	if err != nil {
		t.Fatal(err)
	}
	w, err := ir.NewDat(edges, 1, ir.F64, "w", nil)
	if err != nil {
		t.Fatal(err)
	}
	load, err := ir.NewDat(nodes, 1, ir.F64, "load", nil)
	if err != nil {
		t.Fatal(err)
	}
	kernel := ir.Kernel{
		Name: "push",
		Code: "void push(const double* w, double** load) { load[0][0] += w[0]; load[1][0] += w[0]; }",
	}
	pl, err := ir.NewParLoop(kernel, edges, []ir.Arg{
		ir.DatArg(w, nil, ir.Read),
		ir.DatArg(load, end, ir.Inc),
	})
	if err != nil {
		t.Fatal(err)
	}
	return pl
}

func matLoop(t *testing.T) *ir.ParLoop {
	t.Helper()
	elements, err := ir.NewSet(6, "elements")
	if err != nil {
		t.Fatal(err)
	}
	vertices, err := ir.NewSet(8, "vertices")
	if err != nil {
		t.Fatal(err)
	}
	conn := make([]int32, 18)
	for e := 0; e < 6; e++ {
		conn[e*3] = int32(e)
		conn[e*3+1] = int32(e + 1)
		conn[e*3+2] = int32(e + 2)
	}
	vert, err := ir.NewMap(elements, vertices, 3, conn, "vert")
	if err != nil {
		t.Fatal(err)
	}
	sp, err := ir.NewSparsity(vert, vert, "sp")
	if err != nil {
		t.Fatal(err)
	}
	m := ir.NewMat(sp, ir.F64, "mass")
	kernel := ir.Kernel{
		Name: "massEntry",
		Code: "void massEntry(double* e, int ri, int ci) { e[0] += 1.0; }",
	}
	pl, err := ir.NewParLoop(kernel, elements, []ir.Arg{
		ir.MatArg(m, vert, vert, ir.Inc),
	})
	if err != nil {
		t.Fatal(err)
	}
	return pl
}

func TestDeterministic(t *testing.T) {
	pl := indirectLoop(t)
	a := Implement(pl, dev.CUDA, caps(true), plan.Default)
	b := Implement(pl, dev.CUDA, caps(true), plan.Default)
	if a.Src != b.Src {
		t.Fatal("same loop rendered differently twice")
	}
	if a.Name != Name(pl) {
		t.Fatalf("unit name %s, want %s", a.Name, Name(pl))
	}
}

func TestCUDADirect(t *testing.T) {
	pl := directLoop(t)
	res := Implement(pl, dev.CUDA, caps(true), plan.Default)
	for _, want := range []string{
		"extern \"C\" __global__ void " + res.Name,
		"__constant__ double alpha = 2e+00;",
		"void scale(double* x, double* total)",
		"blockIdx.x*blockDim.x+threadIdx.x",
		"__shared__ char plScratch[" ,
		"__syncthreads()",
		"plRedAddF64",
	} {
		if !strings.Contains(res.Src, want) {
			t.Errorf("CUDA source lacks %q\n%s", want, res.Src)
		}
	}
	if res.Shared != plan.Default.GroupSize*8 {
		t.Errorf("shared bytes %d, want %d", res.Shared, plan.Default.GroupSize*8)
	}
}

func TestOpenCLIndirect(t *testing.T) {
	pl := indirectLoop(t)
	res := Implement(pl, dev.OpenCL, caps(false), plan.Default)
	for _, want := range []string{
		"#pragma OPENCL EXTENSION cl_khr_fp64 : enable",
		"__kernel void " + res.Name,
		"__local char plShared[",
		"barrier(CLK_LOCAL_MEM_FENCE)",
		"get_local_id(0)",
		"blkMap[",
		"thrCol[",
	} {
		if !strings.Contains(res.Src, want) {
			t.Errorf("OpenCL source lacks %q\n%s", want, res.Src)
		}
	}
	if res.Shared != plan.Default.SharedBytes {
		t.Errorf("shared bytes %d, want %d", res.Shared, plan.Default.SharedBytes)
	}
}

func TestAtomicFallback(t *testing.T) {
	pl := matLoop(t)
	native := Implement(pl, dev.CUDA, caps(true), plan.Default)
	if !strings.Contains(native.Src, "atomicAdd") {
		t.Error("native f64 atomics not used when available")
	}
	emulated := Implement(pl, dev.CUDA, caps(false), plan.Default)
	for _, want := range []string{
		"atomicCAS",
		"__double_as_longlong",
		"__longlong_as_double",
	} {
		if !strings.Contains(emulated.Src, want) {
			t.Errorf("CAS fallback lacks %q", want)
		}
	}
}

// staged increments must leave the group through an atomic commit;
// concurrent groups may flush overlapping targets.
func TestIncFlushAtomic(t *testing.T) {
	pl := indirectLoop(t)
	native := Implement(pl, dev.CUDA, caps(true), plan.Default)
	for _, want := range []string{
		"plAddF64(&",
		"atomicAdd",
	} {
		if !strings.Contains(native.Src, want) {
			t.Errorf("increment flush lacks %q", want)
		}
	}
	if strings.Contains(native.Src, "] += plSh0[") {
		t.Error("staged increments written back with a plain add")
	}
	emulated := Implement(pl, dev.CUDA, caps(false), plan.Default)
	if !strings.Contains(emulated.Src, "atomicCAS") {
		t.Error("CAS fallback missing from the increment flush")
	}
}

func TestMatFormals(t *testing.T) {
	pl := matLoop(t)
	var names []string
	for _, f := range params.Formals(pl) {
		names = append(names, f.Name)
	}
	want := []string{
		"setSize", "arg0", "mmap0", "rowptr0", "colidx0",
		"ind", "loc", "indSizes", "indOffs", "blkMap",
		"nelems", "offset", "thrCol", "nThrCol", "blockOffset",
	}
	if len(names) != len(want) {
		t.Fatalf("formals %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("formal %d is %s, want %s", i, names[i], want[i])
		}
	}
}

func TestSharedCarrier(t *testing.T) {
	pl := indirectLoop(t)
	// both args name distinct dats, so two carriers
	if n := len(params.Carriers(pl)); n != 2 {
		t.Fatalf("carriers: %d, want 2", n)
	}
	if params.CarrierOf(pl, 0) == params.CarrierOf(pl, 1) {
		t.Fatal("distinct dats share a carrier")
	}
}
