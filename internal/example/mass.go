package example

import (
	"fmt"

	"PL-64/internal/ir"
	"PL-64/internal/sim"
)

// mass is the assembly showcase: a lumped mass matrix over a strip of
// triangles, every entry committed atomically through the sparsity.
func mass() (*Demo, error) {
	const nele = 12
	elements, err := ir.NewSet(nele, "elements")
	if err != nil {
		return nil, err
	}
	vertices, err := ir.NewSet(nele+2, "vertices")
	if err != nil {
		return nil, err
	}
	conn := make([]int32, nele*3)
	for e := 0; e < nele; e++ {
		conn[e*3] = int32(e)
		conn[e*3+1] = int32(e + 1)
		conn[e*3+2] = int32(e + 2)
	}
	vert, err := ir.NewMap(elements, vertices, 3, conn, "vert")
	if err != nil {
		return nil, err
	}
	sp, err := ir.NewSparsity(vert, vert, "massSparsity")
	if err != nil {
		return nil, err
	}
	m := ir.NewMat(sp, ir.F64, "mass")
	kernel := ir.Kernel{
		Name: "massEntry",
		Code: "void massEntry(double* entry, int ri, int ci) {\n" +
			"\tentry[0] += ri == ci ? 2.0 : 1.0;\n" +
			"}\n",
	}
	loop, err := ir.NewParLoop(kernel, elements, []ir.Arg{
		ir.MatArg(m, vert, vert, ir.Inc),
	})
	if err != nil {
		return nil, err
	}
	fn := func(args []sim.View, ri, ci int) {
		if ri == ci {
			args[0].Flat[0] += 2
		} else {
			args[0].Flat[0] += 1
		}
	}
	report := func() string {
		trace := 0.0
		for r := int32(0); int(r) < vertices.Size; r++ {
			off := sp.Offset(r, r)
			if off >= 0 {
				trace += m.Values[off]
			}
		}
		sum := 0.0
		for _, v := range m.Values {
			sum += v
		}
		return fmt.Sprintf("nonzeros = %d\ntrace = %g\nsum = %g\n",
			sp.Nonzeros(), trace, sum)
	}
	return &Demo{Loop: loop, Fn: fn, Report: report}, nil
}
