package example

import (
	"fmt"

	"PL-64/internal/ir"
	"PL-64/internal/sim"
)

// gather is the indirect showcase: every edge pushes its weight onto
// both endpoints, so colliding increments must be colored apart.
func gather() (*Demo, error) {
	const nn = 36
	nodes, err := ir.NewSet(nn, "nodes")
	if err != nil {
		return nil, err
	}
	edges, err := ir.NewSet(nn, "edges")
	if err != nil {
		return nil, err
	}
	conn := make([]int32, edges.Size*2)
	for e := 0; e < edges.Size; e++ {
		conn[e*2] = int32(e)
		conn[e*2+1] = int32((e + 1) % nn)
	}
	end, err := ir.NewMap(edges, nodes, 2, conn, "end")
	if err != nil {
		return nil, err
	}
	w := make([]float64, edges.Size)
	for i := range w {
		w[i] = 1 + float64(i%3)
	}
	weight, err := ir.NewDat(edges, 1, ir.F64, "weight", w)
	if err != nil {
		return nil, err
	}
	load, err := ir.NewDat(nodes, 1, ir.F64, "load", nil)
	if err != nil {
		return nil, err
	}
	kernel := ir.Kernel{
		Name: "push",
		Code: "void push(const double* w, double** load) {\n" +
			"\tload[0][0] += w[0];\n" +
			"\tload[1][0] += w[0];\n" +
			"}\n",
	}
	loop, err := ir.NewParLoop(kernel, edges, []ir.Arg{
		ir.DatArg(weight, nil, ir.Read),
		ir.DatArg(load, end, ir.Inc),
	})
	if err != nil {
		return nil, err
	}
	fn := func(args []sim.View, ri, ci int) {
		args[1].Vec[0][0] += args[0].Flat[0]
		args[1].Vec[1][0] += args[0].Flat[0]
	}
	report := func() string {
		sum := 0.0
		for _, v := range load.Data {
			sum += v
		}
		return fmt.Sprintf("load[0] = %g\nload[%d] = %g\nsum = %g\n",
			load.Data[0], nn-1, load.Data[nn-1], sum)
	}
	return &Demo{Loop: loop, Fn: fn, Report: report}, nil
}
