package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-quicktest/qt"
	"github.com/pkg/errors"

	"github.com/njchilds90/goautogen"
	"github.com/njchilds90/goautogen/internal/manifest"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autogen.yaml")
	qt.Assert(t, qt.IsNil(os.WriteFile(path, []byte("dialect: golang\ncollision_check: true\nlog_level: debug\n"), 0o644)))
	cfg, err := LoadConfig(path)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(cfg, Config{
		Dialect:        autogen.Go,
		LogLevel:       "debug",
		LogFormat:      "text",
		CollisionCheck: true,
	}))

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	qt.Assert(t, qt.IsNil(os.WriteFile(empty, nil, 0o644)))
	cfg, err = LoadConfig(empty)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(cfg, DefaultConfig()))

	qt.Assert(t, qt.IsNil(os.WriteFile(path, []byte("dialect: fortran\n"), 0o644)))
	_, err = LoadConfig(path)
	qt.Assert(t, qt.ErrorMatches(err, `(?s)failed to decode config .*unknown dialect "fortran"`))
}

func TestNewConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"Defaults", func(*Config) {}, ""},
		{"LogLevel", func(c *Config) { c.LogLevel = "trace" }, `invalid log-level.*`},
		{"LogFormat", func(c *Config) { c.LogFormat = "xml" }, `invalid log-format.*`},
		{"ScalarType", func(c *Config) { c.ScalarType = "long double" }, `invalid scalar-type "long double"`},
		{"Unit", func(c *Config) { c.Unit = "a-b" }, `invalid unit name "a-b"`},
		{"UnitKeyword", func(c *Config) { c.Unit = "namespace" }, `invalid unit name "namespace"`},
		{"KeywordScalarType", func(c *Config) { c.ScalarType = "double" }, ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.modify(&cfg)
			_, err := NewConfig(cfg)
			if test.want == "" {
				qt.Assert(t, qt.IsNil(err))
				return
			}
			qt.Assert(t, qt.ErrorMatches(err, test.want))
		})
	}
}

func TestParseSet(t *testing.T) {
	in := make(manifest.Values)
	qt.Assert(t, qt.IsNil(parseSet([]string{"x=1.5", " q = 1, 2,3"}, in)))
	qt.Assert(t, qt.DeepEquals(in, manifest.Values{"x": {1.5}, "q": {1, 2, 3}}))

	qt.Assert(t, qt.ErrorMatches(parseSet([]string{"x"}, in), `invalid --set "x": want name=value`))
	qt.Assert(t, qt.ErrorMatches(parseSet([]string{"=1"}, in), `invalid --set "=1": want name=value`))
	qt.Assert(t, qt.ErrorMatches(parseSet([]string{"x=1,,2"}, in), `invalid --set "x=1,,2": "" is not a number`))
}

func TestParseValues(t *testing.T) {
	in := manifest.Values{"x": {9}}
	qt.Assert(t, qt.IsNil(parseValues([]byte("y: 2\nq: [1, 2.5]\n"), in)))
	qt.Assert(t, qt.DeepEquals(in, manifest.Values{"x": {9}, "y": {2}, "q": {1, 2.5}}))

	qt.Assert(t, qt.IsNotNil(parseValues([]byte("q: {a: 1}\n"), in)))
}

func TestExecute_ExitCodes(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := Execute(context.Background(), []string{"eval", "--bogus", "x.hcl"}, &stdout, &stderr)
	var exitErr *ExitError
	qt.Assert(t, qt.IsTrue(errors.As(err, &exitErr)))
	qt.Assert(t, qt.Equals(exitErr.Code, 2))

	err = Execute(context.Background(), []string{"eval", "missing.hcl"}, &stdout, &stderr)
	qt.Assert(t, qt.IsFalse(errors.As(err, &exitErr)))
	qt.Assert(t, qt.ErrorMatches(err, `failed to read manifest: .*`))
}

func TestExecute_Generate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sq.hcl")
	src := "function \"sq\" {\n  input \"x\" {}\n  output \"y\" { value = x * x + 2 }\n}\n"
	qt.Assert(t, qt.IsNil(os.WriteFile(path, []byte(src), 0o644)))

	var stdout, stderr bytes.Buffer
	err := Execute(context.Background(), []string{"generate", "-d", "go", path}, &stdout, &stderr)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(stdout.String(), `// Code generated by autogen. DO NOT EDIT.

package generated

func sq(x float64, y *float64) {
	v0 := x
	v1 := v0 * v0
	v2 := float64(2)
	v3 := v1 + v2
	*y = v3
}
`))
	qt.Assert(t, qt.Equals(stderr.String(), ""))
}
