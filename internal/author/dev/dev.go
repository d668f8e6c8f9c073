package dev

import (
	"PL-64/internal/author/cgen"
	"PL-64/internal/ir"
)

// Lang selects the token vocabulary for one SIMT dialect. The phase
// structure of the generated kernels is shared; only these tokens and
// the launch header differ.
type Lang int

const (
	CUDA Lang = iota
	OpenCL
)

var LangStrings = []string{
	CUDA:   "CUDA",
	OpenCL: "OpenCL",
}

func (l Lang) String() string {
	return LangStrings[l]
}

// Caps is the device capability answer consulted once per schedule
// build: whether float atomics are native, and the launch limits.
type Caps struct {
	AtomicF32   bool
	AtomicF64   bool
	SharedBytes int
	MaxGroups   int
}

func (l Lang) Pragmas() cgen.Gen {
	if l == OpenCL {
		return cgen.Gens{
			cgen.Preprocessor{
				Head: cgen.Pragma,
				Tail: cgen.Vb("OPENCL EXTENSION cl_khr_fp64 : enable"),
			},
			cgen.Preprocessor{
				Head: cgen.Pragma,
				Tail: cgen.Vb("OPENCL EXTENSION cl_khr_int64_base_atomics : enable"),
			},
		}
	}
	return nil
}

func (l Lang) ConstQual() cgen.Gen {
	if l == OpenCL {
		return cgen.Vb("__constant")
	}
	return cgen.Vb("__constant__")
}

func (l Lang) KernelQual() cgen.Gen {
	if l == OpenCL {
		return cgen.Vb("__kernel")
	}
	return cgen.Vb("extern \"C\" __global__")
}

func (l Lang) FuncQual() cgen.Gen {
	if l == OpenCL {
		return cgen.Vb("inline")
	}
	return cgen.Vb("static __device__")
}

func (l Lang) GlobalPtr(t cgen.Gen) cgen.Gen {
	if l == OpenCL {
		return cgen.Ptr{Type: cgen.Spaced{cgen.Vb("__global"), t}}
	}
	return cgen.Ptr{Type: t}
}

func (l Lang) SharedPtr(t cgen.Gen) cgen.Gen {
	if l == OpenCL {
		return cgen.Ptr{Type: cgen.Spaced{cgen.Vb("__local"), t}}
	}
	return cgen.Ptr{Type: t}
}

func (l Lang) SharedArray(t cgen.Gen, name string, n int) cgen.Gen {
	qual := cgen.Vb("__shared__")
	if l == OpenCL {
		qual = cgen.Vb("__local")
	}
	return cgen.Var{
		Type: cgen.Spaced{qual, t},
		What: cgen.Elem{Arr: cgen.Vb(name), Idx: cgen.IntLit(n)},
	}
}

func (l Lang) Barrier() cgen.Gen {
	if l == OpenCL {
		return cgen.Call{
			Func: cgen.Vb("barrier"),
			Args: cgen.Vb("CLK_LOCAL_MEM_FENCE"),
		}
	}
	return cgen.Call{Func: cgen.Vb("__syncthreads")}
}

func (l Lang) LocalId() cgen.Gen {
	if l == OpenCL {
		return cgen.Cast{
			Type: cgen.Int,
			Expr: cgen.Call{Func: cgen.Vb("get_local_id"), Args: cgen.Zero},
		}
	}
	return cgen.Vb("threadIdx.x")
}

func (l Lang) GroupId() cgen.Gen {
	if l == OpenCL {
		return cgen.Cast{
			Type: cgen.Int,
			Expr: cgen.Call{Func: cgen.Vb("get_group_id"), Args: cgen.Zero},
		}
	}
	return cgen.Vb("blockIdx.x")
}

func (l Lang) GroupSize() cgen.Gen {
	if l == OpenCL {
		return cgen.Cast{
			Type: cgen.Int,
			Expr: cgen.Call{Func: cgen.Vb("get_local_size"), Args: cgen.Zero},
		}
	}
	return cgen.Vb("blockDim.x")
}

func (l Lang) NumGroups() cgen.Gen {
	if l == OpenCL {
		return cgen.Cast{
			Type: cgen.Int,
			Expr: cgen.Call{Func: cgen.Vb("get_num_groups"), Args: cgen.Zero},
		}
	}
	return cgen.Vb("gridDim.x")
}

func (l Lang) GlobalId() cgen.Gen {
	if l == OpenCL {
		return cgen.Cast{
			Type: cgen.Int,
			Expr: cgen.Call{Func: cgen.Vb("get_global_id"), Args: cgen.Zero},
		}
	}
	return cgen.Add{
		Expr1: cgen.Mul{Expr1: l.GroupId(), Expr2: l.GroupSize()},
		Expr2: l.LocalId(),
	}
}

func elemBits(e ir.Elem) int {
	return e.Bytes() * 8
}

func (l Lang) BitsType(e ir.Elem) cgen.Gen {
	if l == OpenCL {
		if elemBits(e) == 64 {
			return cgen.Vb("ulong")
		}
		return cgen.Vb("uint")
	}
	if elemBits(e) == 64 {
		return cgen.UnsignedLong
	}
	return cgen.UnsignedInt
}

func (l Lang) AtomicCAS(e ir.Elem) cgen.Gen {
	if l == OpenCL {
		if elemBits(e) == 64 {
			return cgen.Vb("atom_cmpxchg")
		}
		return cgen.Vb("atomic_cmpxchg")
	}
	return cgen.Vb("atomicCAS")
}

// AtomicAdd reports the native atomic-add name, or nil when the caps
// say the type has no native atomic and a CAS loop must be emitted.
func (l Lang) AtomicAdd(e ir.Elem, caps Caps) cgen.Gen {
	switch e {
	case ir.F64:
		if l == CUDA && caps.AtomicF64 {
			return cgen.Vb("atomicAdd")
		}
	case ir.F32:
		if l == CUDA && caps.AtomicF32 {
			return cgen.Vb("atomicAdd")
		}
	case ir.I32, ir.U32:
		if l == OpenCL {
			return cgen.Vb("atomic_add")
		}
		return cgen.Vb("atomicAdd")
	}
	return nil
}

func (l Lang) AtomicExch(e ir.Elem) cgen.Gen {
	if l == OpenCL {
		if elemBits(e) == 64 {
			return cgen.Vb("atom_xchg")
		}
		return cgen.Vb("atomic_xchg")
	}
	return cgen.Vb("atomicExch")
}

func (l Lang) AsBits(e ir.Elem, expr cgen.Gen) cgen.Gen {
	if l == OpenCL {
		name := "as_uint"
		if elemBits(e) == 64 {
			name = "as_ulong"
		}
		return cgen.Call{Func: cgen.Vb(name), Args: expr}
	}
	name := "__float_as_uint"
	if elemBits(e) == 64 {
		name = "__double_as_longlong"
	}
	return cgen.Call{Func: cgen.Vb(name), Args: expr}
}

func (l Lang) AsVal(e ir.Elem, expr cgen.Gen) cgen.Gen {
	if l == OpenCL {
		name := "as_float"
		if elemBits(e) == 64 {
			name = "as_double"
		}
		return cgen.Call{Func: cgen.Vb(name), Args: expr}
	}
	name := "__uint_as_float"
	if elemBits(e) == 64 {
		name = "__longlong_as_double"
	}
	return cgen.Call{Func: cgen.Vb(name), Args: expr}
}

func CType(e ir.Elem) cgen.Gen {
	return cgen.Vb(e.CType())
}
