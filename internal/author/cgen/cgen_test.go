package cgen

import "testing"

func render(g Gen) string {
	return string(g.Append(nil))
}

func TestExprs(t *testing.T) {
	x := Vb("x")
	cases := []struct {
		gen  Gen
		want string
	}{
		{Add{Expr1: x, Expr2: One}, "x+1"},
		{Sub{Expr1: x, Expr2: One}, "x-1"},
		{Mul{Expr1: x, Expr2: IntLit(3)}, "x*3"},
		{Quo{Expr1: x, Expr2: IntLit(8)}, "x/8"},
		{Rem{Expr1: x, Expr2: IntLit(8)}, "x%8"},
		{AddAssign{Expr1: x, Expr2: One}, "x += 1"},
		{Assign{Expr1: x, Expr2: Zero}, "x = 0"},
		{ShiftLowAssign{Expr1: x, Expr2: One}, "x >>= 1"},
		{CmpL{Expr1: x, Expr2: IntLit(4)}, "x < 4"},
		{CmpE{Expr1: x, Expr2: Zero}, "x == 0"},
		{Ternary{Cond: CmpG{Expr1: x, Expr2: Zero}, Then: x, Else: Zero}, "x > 0 ? x : 0"},
		{Cast{Type: PtrDouble, Expr: x}, "(double*)x"},
		{Elem{Arr: x, Idx: IntLit(2)}, "x[2]"},
		{Addr{Expr: Elem{Arr: x, Idx: Zero}}, "&x[0]"},
		{At{Expr: x}, "*x"},
		{Call{Func: Vb("f"), Args: CommaSpaced{x, One}}, "f(x, 1)"},
		{IntLit(-7), "-7"},
		{DoubleLit(0.5), "5e-01"},
	}
	for _, c := range cases {
		if got := render(c.gen); got != c.want {
			t.Errorf("render: %q, want %q", got, c.want)
		}
	}
}

func TestStmts(t *testing.T) {
	got := render(Stmts{
		Var{Type: Int, What: Vb("n"), Init: Zero},
		Call{Func: Vb("f"), Args: Vb("n")},
	})
	want := "int n = 0;\nf(n);\n"
	if got != want {
		t.Errorf("render: %q, want %q", got, want)
	}
}

func TestFor(t *testing.T) {
	i := Vb("i")
	got := render(For{
		Init: Var{Type: Int, What: i, Init: Zero},
		Cond: CmpL{Expr1: i, Expr2: IntLit(4)},
		Post: IncPost{Expr: i},
		Body: Stmts{AddAssign{Expr1: Vb("x"), Expr2: i}},
	})
	want := "for (int i = 0; i < 4; i++) {\nx += i;\n}"
	if got != want {
		t.Errorf("render: %q, want %q", got, want)
	}
}

func TestIfElseChain(t *testing.T) {
	cond := CmpE{Expr1: Vb("a"), Expr2: Vb("b")}
	got := render(If{
		Cond: cond,
		Then: Stmts{Break},
		Else: Stmts{If{Cond: cond, Then: Stmts{Break}}},
	})
	want := "if (a == b) {\nbreak;\n} else if (a == b) {\nbreak;\n}"
	if got != want {
		t.Errorf("render: %q, want %q", got, want)
	}
}

func TestFuncDef(t *testing.T) {
	got := render(FuncDef{
		Qual:       Vb("static"),
		ReturnType: Void,
		Name:       "f",
		Params:     Param{Type: Int, What: Vb("x")},
		Body:       Stmts{Return{Expr: nil}},
	})
	want := "static void f(int x) {\nreturn;\n}\n"
	if got != want {
		t.Errorf("render: %q, want %q", got, want)
	}
}

func TestPreprocessor(t *testing.T) {
	got := render(Def{Name: "N", Expr: IntLit(8)})
	want := "#define N 8\n"
	if got != want {
		t.Errorf("render: %q, want %q", got, want)
	}
}
