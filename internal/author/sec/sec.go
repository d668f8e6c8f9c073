package sec

import "PL-64/internal/author/cgen"

type Section int

const (
	First Section = iota
	Comment
	Pragmas
	Defines
	Consts
	Helpers
	User
	Kernel
	Last
	sectionCount
)

type Sections struct {
	a [sectionCount][]byte
}

func (s *Sections) Append(to Section, from ...cgen.Gen) {
	for _, gen := range from {
		if gen != nil {
			s.a[to] = gen.Append(s.a[to])
		}
	}
}

// Join concatenates the sections and re-indents by brace and paren
// depth, one tab per level.
func (s *Sections) Join() (to []byte) {
	const (
		brace1  = '{'
		brace2  = '}'
		newline = '\n'
		paren1  = '('
		paren2  = ')'
		tab     = '\t'
	)
	var prev byte
	var indent []byte
	for _, from := range s.a[First : Last+1] {
		for _, curr := range from {
			switch curr {
			case newline:
				if prev == brace1 || prev == paren1 {
					indent = append(indent, tab)
				}
			default:
				if prev == newline {
					if curr == brace2 || curr == paren2 {
						indent = indent[:len(indent)-1]
					}
					to = append(to, indent...)
				}
			}
			to = append(to, curr)
			prev = curr
		}
	}
	return
}
