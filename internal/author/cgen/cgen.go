package cgen

import "strconv"

const (
	ampersand    = "&"
	assign       = "="
	asterisk     = "*"
	brace1       = "{"
	brace2       = "}"
	break_       = "break"
	char         = "char"
	cmpE         = "=="
	cmpG         = ">"
	cmpGE        = ">="
	cmpL         = "<"
	cmpLE        = "<="
	cmpNE        = "!="
	comma        = ","
	const_       = "const"
	define       = "define"
	double       = "double"
	doubleQuote  = "\""
	else_        = "else"
	empty        = ""
	float        = "float"
	floatSuffix  = "f"
	for_         = "for"
	hash         = "#"
	if_          = "if"
	inc          = "++"
	include      = "include"
	int_         = "int"
	land         = "&&"
	long         = "long"
	lor          = "||"
	minus        = "-"
	newline      = "\n"
	paren1       = "("
	paren2       = ")"
	percent      = "%"
	plus         = "+"
	pragma       = "pragma"
	restrict     = "restrict"
	return_      = "return"
	semicolon    = ";"
	shiftHigh    = "<<"
	shiftLow     = ">>"
	slash        = "/"
	slashes      = "//"
	space        = " "
	squareBrack1 = "["
	squareBrack2 = "]"
	static       = "static"
	unsigned     = "unsigned"
	void         = "void"
	volatile_    = "volatile"
	zero         = "0"
)

type Gen interface {
	Append(to []byte) []byte
}

type Gens []Gen

func (gs Gens) Append(to []byte) []byte {
	for _, gen := range gs {
		if gen != nil {
			to = gen.Append(to)
		}
	}
	return to
}

type Vb string

func (v Vb) Append(to []byte) []byte {
	to = append(to, v...)
	return to
}

type Maybe struct {
	What Gen
}

func (m Maybe) Append(to []byte) []byte {
	if m.What != nil {
		to = m.What.Append(to)
	}
	return to
}

type MaybeSpace struct {
	What Gen
}

func (m MaybeSpace) Append(to []byte) []byte {
	if m.What != nil {
		to = append(to, space...)
		to = m.What.Append(to)
	}
	return to
}

type IntLit int

func (i IntLit) Append(to []byte) []byte {
	to = strconv.AppendInt(to, int64(i), 10)
	return to
}

type FloatLit float64

func (f FloatLit) Append(to []byte) []byte {
	to = strconv.AppendFloat(to, float64(f), 'e', -1, 32)
	to = append(to, floatSuffix...)
	return to
}

type DoubleLit float64

func (d DoubleLit) Append(to []byte) []byte {
	to = strconv.AppendFloat(to, float64(d), 'e', -1, 64)
	return to
}

type Add struct {
	Expr1, Expr2 Gen
}

func (a Add) Append(to []byte) []byte {
	to = a.Expr1.Append(to)
	to = append(to, plus...)
	to = a.Expr2.Append(to)
	return to
}

type AddAssign struct {
	Expr1, Expr2 Gen
}

func (a AddAssign) Append(to []byte) []byte {
	to = a.Expr1.Append(to)
	to = append(to, space+plus+assign+space...)
	to = a.Expr2.Append(to)
	return to
}

type Sub struct {
	Expr1, Expr2 Gen
}

func (s Sub) Append(to []byte) []byte {
	to = s.Expr1.Append(to)
	to = append(to, minus...)
	to = s.Expr2.Append(to)
	return to
}

type Mul struct {
	Expr1, Expr2 Gen
}

func (m Mul) Append(to []byte) []byte {
	to = m.Expr1.Append(to)
	to = append(to, asterisk...)
	to = m.Expr2.Append(to)
	return to
}

type Quo struct {
	Expr1, Expr2 Gen
}

func (q Quo) Append(to []byte) []byte {
	to = q.Expr1.Append(to)
	to = append(to, slash...)
	to = q.Expr2.Append(to)
	return to
}

type Rem struct {
	Expr1, Expr2 Gen
}

func (r Rem) Append(to []byte) []byte {
	to = r.Expr1.Append(to)
	to = append(to, percent...)
	to = r.Expr2.Append(to)
	return to
}

type ShiftLowAssign struct {
	Expr1, Expr2 Gen
}

func (s ShiftLowAssign) Append(to []byte) []byte {
	to = s.Expr1.Append(to)
	to = append(to, space+shiftLow+assign+space...)
	to = s.Expr2.Append(to)
	return to
}

type ShiftHigh struct {
	Expr1, Expr2 Gen
}

func (s ShiftHigh) Append(to []byte) []byte {
	to = s.Expr1.Append(to)
	to = append(to, shiftHigh...)
	to = s.Expr2.Append(to)
	return to
}

type Assign struct {
	Expr1, Expr2 Gen
}

func (a Assign) Append(to []byte) []byte {
	to = a.Expr1.Append(to)
	to = append(to, space+assign+space...)
	to = a.Expr2.Append(to)
	return to
}

type Addr struct {
	Expr Gen
}

func (a Addr) Append(to []byte) []byte {
	to = append(to, ampersand...)
	to = a.Expr.Append(to)
	return to
}

type At struct {
	Expr Gen
}

func (a At) Append(to []byte) []byte {
	to = append(to, asterisk...)
	to = a.Expr.Append(to)
	return to
}

type CmpE struct {
	Expr1, Expr2 Gen
}

func (c CmpE) Append(to []byte) []byte {
	to = c.Expr1.Append(to)
	to = append(to, space+cmpE+space...)
	to = c.Expr2.Append(to)
	return to
}

type CmpNE struct {
	Expr1, Expr2 Gen
}

func (c CmpNE) Append(to []byte) []byte {
	to = c.Expr1.Append(to)
	to = append(to, space+cmpNE+space...)
	to = c.Expr2.Append(to)
	return to
}

type CmpL struct {
	Expr1, Expr2 Gen
}

func (c CmpL) Append(to []byte) []byte {
	to = c.Expr1.Append(to)
	to = append(to, space+cmpL+space...)
	to = c.Expr2.Append(to)
	return to
}

type CmpLE struct {
	Expr1, Expr2 Gen
}

func (c CmpLE) Append(to []byte) []byte {
	to = c.Expr1.Append(to)
	to = append(to, space+cmpLE+space...)
	to = c.Expr2.Append(to)
	return to
}

type CmpG struct {
	Expr1, Expr2 Gen
}

func (c CmpG) Append(to []byte) []byte {
	to = c.Expr1.Append(to)
	to = append(to, space+cmpG+space...)
	to = c.Expr2.Append(to)
	return to
}

type CmpGE struct {
	Expr1, Expr2 Gen
}

func (c CmpGE) Append(to []byte) []byte {
	to = c.Expr1.Append(to)
	to = append(to, space+cmpGE+space...)
	to = c.Expr2.Append(to)
	return to
}

type Land struct {
	Expr1, Expr2 Gen
}

func (l Land) Append(to []byte) []byte {
	to = l.Expr1.Append(to)
	to = append(to, space+land+space...)
	to = l.Expr2.Append(to)
	return to
}

type Lor struct {
	Expr1, Expr2 Gen
}

func (l Lor) Append(to []byte) []byte {
	to = l.Expr1.Append(to)
	to = append(to, space+lor+space...)
	to = l.Expr2.Append(to)
	return to
}

type Ternary struct {
	Cond, Then, Else Gen
}

func (t Ternary) Append(to []byte) []byte {
	to = t.Cond.Append(to)
	to = append(to, space+"?"+space...)
	to = t.Then.Append(to)
	to = append(to, space+":"+space...)
	to = t.Else.Append(to)
	return to
}

type Paren struct {
	Inner Gen
}

func (p Paren) Append(to []byte) []byte {
	to = append(to, paren1...)
	to = Maybe{p.Inner}.Append(to)
	to = append(to, paren2...)
	return to
}

type Cast struct {
	Type, Expr Gen
}

func (c Cast) Append(to []byte) []byte {
	to = Paren{c.Type}.Append(to)
	to = c.Expr.Append(to)
	return to
}

type Elem struct {
	Arr, Idx Gen
}

func (e Elem) Append(to []byte) []byte {
	to = e.Arr.Append(to)
	to = append(to, squareBrack1...)
	to = Maybe{e.Idx}.Append(to)
	to = append(to, squareBrack2...)
	return to
}

type Call struct {
	Func, Args Gen
}

func (c Call) Append(to []byte) []byte {
	to = c.Func.Append(to)
	to = Paren{c.Args}.Append(to)
	return to
}

type CommaSpaced []Gen

func (c CommaSpaced) Append(to []byte) []byte {
	first := true
	for _, gen := range c {
		if gen == nil {
			continue
		}
		if first {
			first = false
		} else {
			to = append(to, comma+space...)
		}
		to = gen.Append(to)
	}
	return to
}

type CommaLines []Gen

func (c CommaLines) Append(to []byte) []byte {
	first := true
	for _, gen := range c {
		if gen == nil {
			continue
		}
		if first {
			first = false
		} else {
			to = append(to, comma...)
		}
		to = append(to, newline...)
		to = gen.Append(to)
	}
	if !first {
		to = append(to, newline...)
	}
	return to
}

type Spaced []Gen

func (s Spaced) Append(to []byte) []byte {
	first := true
	for _, gen := range s {
		if gen == nil {
			continue
		}
		if first {
			first = false
		} else {
			to = append(to, space...)
		}
		to = gen.Append(to)
	}
	return to
}

type Stmts []Gen

func (s Stmts) Append(to []byte) []byte {
	for _, gen := range s {
		if gen == nil {
			continue
		}
		n1 := len(to)
		to = gen.Append(to)
		n2 := len(to)
		if n1 >= n2 {
			continue
		}
		switch to[n2-1] {
		case newline[0]:
		case brace2[0], semicolon[0]:
			to = append(to, newline...)
		default:
			to = append(to, semicolon+newline...)
		}
	}
	return to
}

type Block struct {
	Inner Gen
}

func (b Block) Append(to []byte) []byte {
	to = append(to, brace1+newline...)
	to = Maybe{b.Inner}.Append(to)
	to = append(to, brace2...)
	return to
}

type Brace struct {
	Inner Gen
}

func (b Brace) Append(to []byte) []byte {
	to = append(to, brace1...)
	to = Maybe{b.Inner}.Append(to)
	to = append(to, brace2...)
	return to
}

type If struct {
	Cond Gen
	Then Stmts
	Else Stmts
}

func (i If) Append(to []byte) []byte {
	to = append(to, if_+space...)
	to = Paren{i.Cond}.Append(to)
	to = append(to, space...)
	to = Block{i.Then}.Append(to)
	if n := len(i.Else); n != 0 {
		to = append(to, space+else_+space...)
		chain := false
		if n == 1 {
			_, chain = i.Else[0].(If)
		}
		if chain {
			to = i.Else[0].Append(to)
		} else {
			to = Block{i.Else}.Append(to)
		}
	}
	return to
}

type For struct {
	Init, Cond, Post, Body Gen
}

func (f For) Append(to []byte) []byte {
	to = append(to, for_+space+paren1...)
	to = Maybe{f.Init}.Append(to)
	if to[len(to)-1] != semicolon[0] {
		to = append(to, semicolon...)
	}
	to = append(to, space...)
	to = Maybe{f.Cond}.Append(to)
	to = append(to, semicolon+space...)
	to = Maybe{f.Post}.Append(to)
	to = append(to, paren2...)
	if f.Body != nil {
		to = append(to, space...)
		to = Block{f.Body}.Append(to)
	}
	return to
}

type IncPost struct {
	Expr Gen
}

func (i IncPost) Append(to []byte) []byte {
	to = i.Expr.Append(to)
	to = append(to, inc...)
	return to
}

type Return struct {
	Expr Gen
}

func (r Return) Append(to []byte) []byte {
	to = append(to, return_...)
	to = MaybeSpace{r.Expr}.Append(to)
	return to
}

type Var struct {
	Type, What, Init Gen
}

func (v Var) Append(to []byte) []byte {
	to = v.Type.Append(to)
	to = append(to, space...)
	to = v.What.Append(to)
	if v.Init != nil {
		to = append(to, space+assign+space...)
		to = v.Init.Append(to)
	}
	to = append(to, semicolon...)
	return to
}

type Param struct {
	Type, What Gen
}

func (p Param) Append(to []byte) []byte {
	to = p.Type.Append(to)
	to = append(to, space...)
	to = p.What.Append(to)
	return to
}

type Ptr struct {
	Type Gen
}

func (p Ptr) Append(to []byte) []byte {
	to = p.Type.Append(to)
	to = append(to, asterisk...)
	return to
}

type RestrictPtr Ptr

func (r RestrictPtr) Append(to []byte) []byte {
	to = Ptr(r).Append(to)
	to = append(to, restrict...)
	return to
}

type Const struct {
	Tail Gen
}

func (c Const) Append(to []byte) []byte {
	to = append(to, const_+space...)
	to = c.Tail.Append(to)
	return to
}

type Volatile struct {
	Tail Gen
}

func (v Volatile) Append(to []byte) []byte {
	to = append(to, volatile_+space...)
	to = v.Tail.Append(to)
	return to
}

type Static struct {
	Tail Gen
}

func (s Static) Append(to []byte) []byte {
	to = append(to, static+space...)
	to = s.Tail.Append(to)
	return to
}

type FuncDef struct {
	Qual       Gen
	ReturnType Gen
	Name       string
	Params     Gen
	Body       Gen
}

func (f FuncDef) Append(to []byte) []byte {
	var g1, g2, g3, g4 Gen
	g1 = f.Qual
	g2 = f.ReturnType
	g3 = Call{Vb(f.Name), f.Params}
	g4 = Block{f.Body}
	to = Spaced{g1, g2, g3, g4}.Append(to)
	to = append(to, newline...)
	return to
}

type Comment []string

func (c Comment) Append(to []byte) []byte {
	for _, line := range c {
		switch line {
		case empty:
			to = append(to, slashes+newline...)
		default:
			to = append(to, slashes+space...)
			to = append(to, line...)
			to = append(to, newline...)
		}
	}
	return to
}

type Directive string

const (
	Define  Directive = define
	Include Directive = include
	Pragma  Directive = pragma
)

type Preprocessor struct {
	Head Directive
	Tail Gen
}

func (p Preprocessor) Append(to []byte) []byte {
	to = append(to, hash...)
	to = append(to, p.Head...)
	to = MaybeSpace{p.Tail}.Append(to)
	to = append(to, newline...)
	return to
}

type Def struct {
	Name string
	Expr Gen
}

func (d Def) Append(to []byte) []byte {
	return Preprocessor{
		Head: Define,
		Tail: Spaced{Vb(d.Name), d.Expr},
	}.Append(to)
}

type DoubleQuoted string

func (d DoubleQuoted) Append(to []byte) []byte {
	to = append(to, doubleQuote...)
	to = append(to, d...)
	to = append(to, doubleQuote...)
	return to
}

var (
	Break        Gen = Vb(break_)
	Char         Gen = Vb(char)
	Double       Gen = Vb(double)
	Float        Gen = Vb(float)
	Int          Gen = Vb(int_)
	Newline      Gen = Vb(newline)
	One          Gen = Vb("1")
	PtrChar      Gen = Ptr{Char}
	PtrDouble    Gen = Ptr{Double}
	PtrFloat     Gen = Ptr{Float}
	PtrInt       Gen = Ptr{Int}
	PtrVoid      Gen = Ptr{Void}
	UnsignedInt  Gen = Vb(unsigned + space + int_)
	UnsignedLong Gen = Vb(unsigned + space + long + space + long)
	Void         Gen = Vb(void)
	Zero         Gen = Vb(zero)
)
