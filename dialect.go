package autogen

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ============================================================
// Dialects
// ============================================================

// Dialect selects the target language of emitted code.
type Dialect uint8

const (
	// CXX emits `void f(const double &x, double &y)` with one typed
	// declaration per scheduled node.
	CXX Dialect = iota
	// Go emits `func f(x float64, y *float64)` with short variable
	// declarations.
	Go
)

func (d Dialect) String() string {
	switch d {
	case CXX:
		return "cxx"
	case Go:
		return "go"
	}
	return "dialect(" + strconv.Itoa(int(d)) + ")"
}

// ParseDialect accepts the names printed by String, plus "c++" and "cpp".
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "", "cxx", "c++", "cpp":
		return CXX, nil
	case "go", "golang":
		return Go, nil
	}
	return 0, errors.Errorf("autogen: unknown dialect %q", s)
}

func (d Dialect) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Dialect) UnmarshalText(b []byte) error {
	v, err := ParseDialect(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Scalar is the default parameter and temporary type.
func (d Dialect) Scalar() string {
	if d == Go {
		return "float64"
	}
	return "double"
}

// Ext is the conventional file extension.
func (d Dialect) Ext() string {
	if d == Go {
		return ".go"
	}
	return ".cpp"
}

// Literal renders a constant so that parsing it back yields the same bits.
func (d Dialect) Literal(v float64) string {
	switch {
	case math.IsNaN(v):
		if d == Go {
			return "math.NaN()"
		}
		return "NAN"
	case math.IsInf(v, 1):
		if d == Go {
			return "math.Inf(1)"
		}
		return "INFINITY"
	case math.IsInf(v, -1):
		if d == Go {
			return "math.Inf(-1)"
		}
		return "-INFINITY"
	}
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if d == Go {
		return "float64(" + s + ")"
	}
	return s
}

func (d Dialect) call(fn string) string {
	if d == Go {
		switch fn {
		case "pow":
			return "math.Pow"
		case "sqrt":
			return "math.Sqrt"
		case "log":
			return "math.Log"
		}
	}
	return fn
}

// render builds the right-hand side of node id from the identifiers
// already assigned to its children.
func (d Dialect) render(g *Graph, id NodeID, ident func(NodeID) string) string {
	n := g.at(id)
	switch n.kind {
	case KindConst:
		return d.Literal(n.value)
	case KindVar:
		return n.name
	case KindNeg:
		return "-" + ident(n.a)
	case KindAdd:
		return ident(n.a) + " + " + ident(n.b)
	case KindSub:
		return ident(n.a) + " - " + ident(n.b)
	case KindMul:
		return ident(n.a) + " * " + ident(n.b)
	case KindDiv:
		return ident(n.a) + " / " + ident(n.b)
	case KindPow:
		return d.call("pow") + "(" + ident(n.a) + ", " + ident(n.b) + ")"
	case KindSqrt:
		return d.call("sqrt") + "(" + ident(n.a) + ")"
	case KindLog:
		return d.call("log") + "(" + ident(n.a) + ")"
	case KindResult:
		return ident(n.a)
	}
	panic(errors.Errorf("autogen: cannot render kind %d", n.kind))
}

func (d Dialect) declare(typ, ident, rhs string) string {
	if d == Go {
		return ident + " := " + rhs
	}
	return typ + " " + ident + " = " + rhs + ";"
}

func (d Dialect) assign(out string, indexed bool, ident string) string {
	if d == Go {
		if indexed {
			return out + " = " + ident
		}
		return "*" + out + " = " + ident
	}
	return out + " = " + ident + ";"
}

// ============================================================
// Parameters
// ============================================================

var paramName = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)(\[([0-9]+)\])?$`)

// splitName returns the base identifier of a parameter name and whether it
// is an element reference such as grad[3].
func splitName(name string) (base string, index int, indexed bool, ok bool) {
	m := paramName.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false, false
	}
	if m[2] == "" {
		return m[1], 0, false, true
	}
	i, err := strconv.Atoi(m[3])
	if err != nil {
		return "", 0, false, false
	}
	return m[1], i, true, true
}

// ValidName reports whether name can be used as an input or output name:
// an identifier, optionally followed by a non-negative index, whose base
// is not reserved.
func ValidName(name string) bool {
	base, _, _, ok := splitName(name)
	return ok && !Reserved(base)
}

// IsIdentifier reports whether s is a plain identifier, reserved or not.
func IsIdentifier(s string) bool {
	_, _, indexed, ok := splitName(s)
	return ok && !indexed
}

// reserved holds the keywords of both dialects and the names emitted code
// refers to itself.
var reserved = func() map[string]bool {
	m := make(map[string]bool)
	for _, w := range strings.Fields(`
		alignas alignof and and_eq asm auto bitand bitor bool break case catch
		char char8_t char16_t char32_t class compl concept const consteval
		constexpr constinit const_cast continue co_await co_return co_yield
		decltype default delete do double dynamic_cast else enum explicit
		export extern false float for friend goto if inline int long mutable
		namespace new noexcept not not_eq nullptr operator or or_eq private
		protected public register reinterpret_cast requires return short
		signed sizeof static static_assert static_cast struct switch template
		this thread_local throw true try typedef typeid typename union
		unsigned using virtual void volatile wchar_t while xor xor_eq

		chan defer fallthrough func go import interface map package range
		select type var

		_ math float64 std pow sqrt log NAN INFINITY null
	`) {
		m[w] = true
	}
	return m
}()

// Reserved reports whether name is a keyword of either dialect or a name
// emitted code refers to, such as math or pow.
func Reserved(name string) bool { return reserved[name] }

// Param is one entry of an emitted parameter list.
type Param struct {
	Name    string `json:"name" yaml:"name"`
	Type    string `json:"type" yaml:"type"`
	Output  bool   `json:"output,omitempty" yaml:"output,omitempty"`
	Indexed bool   `json:"indexed,omitempty" yaml:"indexed,omitempty"`
	// Size is one past the largest index referenced, for indexed params.
	Size int `json:"size,omitempty" yaml:"size,omitempty"`
}

func (d Dialect) param(p Param) string {
	if d == Go {
		switch {
		case p.Indexed:
			return p.Name + " []" + p.Type
		case p.Output:
			return p.Name + " *" + p.Type
		}
		return p.Name + " " + p.Type
	}
	switch {
	case p.Indexed && p.Output:
		return p.Type + " *" + p.Name
	case p.Indexed:
		return "const " + p.Type + " *" + p.Name
	case p.Output:
		return p.Type + " &" + p.Name
	}
	return "const " + p.Type + " &" + p.Name
}

func (d Dialect) signature(fn string, params []Param) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = d.param(p)
	}
	if d == Go {
		return "func " + fn + "(" + strings.Join(parts, ", ") + ") {"
	}
	return "void " + fn + "(" + strings.Join(parts, ", ") + ")\n{"
}

// ============================================================
// Files
// ============================================================

// File wraps emitted functions into a compilable translation unit: a
// namespace (C++) or package clause (Go) plus the math header or import
// when any function needs it.
func (d Dialect) File(unit string, funcs ...string) string {
	var b strings.Builder
	body := strings.Join(funcs, "\n")
	if d == Go {
		if unit == "" {
			unit = "generated"
		}
		b.WriteString("// Code generated by autogen. DO NOT EDIT.\n\n")
		b.WriteString("package " + unit + "\n\n")
		if strings.Contains(body, "math.") {
			b.WriteString("import \"math\"\n\n")
		}
		b.WriteString(body)
		return b.String()
	}
	b.WriteString("// Code generated by autogen. DO NOT EDIT.\n\n")
	b.WriteString("#include <cmath>\n\n")
	if unit != "" {
		b.WriteString("namespace " + unit + " {\n\n")
	}
	b.WriteString(body)
	if unit != "" {
		b.WriteString("\n} // namespace " + unit + "\n")
	}
	return b.String()
}
