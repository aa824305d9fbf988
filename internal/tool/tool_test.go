package tool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-quicktest/qt"

	"github.com/njchilds90/goautogen/internal/runner"
)

// call decodes req the way the server does, so parameters carry JSON
// types.
func call(t *testing.T, req string) ToolResponse {
	t.Helper()
	var r ToolRequest
	qt.Assert(t, qt.IsNil(json.Unmarshal([]byte(req), &r)))
	return HandleToolCall(context.Background(), r)
}

func TestGradient(t *testing.T) {
	resp := call(t, `{"tool": "gradient", "params": {"expr": "x*y + x"}}`)
	qt.Assert(t, qt.Equals(resp.Error, ""))
	qt.Assert(t, qt.DeepEquals(resp.Result, any([]string{"y + 1", "x"})))
	qt.Assert(t, qt.Equals(resp.String, "[y + 1, x]"))

	resp = call(t, `{"tool": "gradient", "params": {"expr": "x*y + x", "vars": ["y"]}}`)
	qt.Assert(t, qt.DeepEquals(resp.Result, any([]string{"x"})))

	resp = call(t, `{"tool": "gradient", "params": {"expr": "x*y", "vars": ["z"]}}`)
	qt.Assert(t, qt.Equals(resp.Error, "variable z does not occur in expr"))

	resp = call(t, `{"tool": "gradient", "params": {"expr": "2*3"}}`)
	qt.Assert(t, qt.Equals(resp.Error, ""))
	qt.Assert(t, qt.Equals(resp.String, "[]"))
}

func evalString(t *testing.T, expr string, values string) float64 {
	t.Helper()
	b, _ := json.Marshal(expr)
	resp := call(t, `{"tool": "evaluate", "params": {"expr": `+string(b)+`, "values": `+values+`}}`)
	qt.Assert(t, qt.Equals(resp.Error, ""), qt.Commentf("%s", expr))
	return resp.Result.(float64)
}

func TestHessian(t *testing.T) {
	resp := call(t, `{"tool": "hessian", "params": {"expr": "x*x*y"}}`)
	qt.Assert(t, qt.Equals(resp.Error, ""))
	rows := resp.Result.([][]string)
	qt.Assert(t, qt.HasLen(rows, 2))

	// Every entry is itself a formula; evaluate them at (1.5, -2).
	want := [][]float64{{-4, 3}, {3, 0}}
	for i, row := range rows {
		for j, e := range row {
			qt.Assert(t, qt.Equals(evalString(t, e, `{"x": 1.5, "y": -2}`), want[i][j]), qt.Commentf("H[%d][%d] = %s", i, j, e))
		}
	}
	qt.Assert(t, qt.IsTrue(strings.HasPrefix(resp.LaTeX, `\begin{pmatrix}`)))
}

func TestEvaluate(t *testing.T) {
	got := evalString(t, "x*q[1] + sqrt(y)", `{"x": 2, "q": [1, 3], "y": 4}`)
	qt.Assert(t, qt.Equals(got, 8.0))

	tests := []struct {
		params string
		want   string
	}{
		{`{"expr": "x + y", "values": {"x": 1}}`, `no value for y`},
		{`{"expr": "x", "values": {"x": [1, 2]}}`, `x is a scalar, got 2 values`},
		{`{"expr": "q[2]", "values": {"q": [1]}}`, `q needs at least 3 values, got 1`},
		{`{"expr": "x", "values": {"x": "one"}}`, `param values.x must be a number or an array of numbers`},
		{`{"expr": "exp(x)", "values": {"x": 1}}`, `.*Unknown function.*`},
		{`{"expr": "local.a", "values": {}}`, `local references are only allowed in manifests`},
		{`{"values": {}}`, `missing param: expr`},
		{`{"expr": 3}`, `param expr must be a string`},
	}
	for _, test := range tests {
		resp := call(t, `{"tool": "evaluate", "params": `+test.params+`}`)
		qt.Assert(t, qt.Matches(resp.Error, test.want), qt.Commentf("%s", test.params))
		qt.Assert(t, qt.IsNil(resp.Result))
	}
}

func TestToLaTeX(t *testing.T) {
	resp := call(t, `{"tool": "to_latex", "params": {"expr": "x / y"}}`)
	qt.Assert(t, qt.Equals(resp.Error, ""))
	qt.Assert(t, qt.Equals(resp.LaTeX, `\frac{x}{y}`))
	qt.Assert(t, qt.Equals(resp.String, "x/y"))
}

func TestInspect(t *testing.T) {
	resp := call(t, `{"tool": "inspect", "params": {"expr": "x*x + x*x"}}`)
	qt.Assert(t, qt.Equals(resp.Error, ""))
	got := resp.Result.(inspection)
	qt.Assert(t, qt.DeepEquals(got.Inputs, []string{"x"}))
	qt.Assert(t, qt.DeepEquals(got.Kinds, map[string]int{"var": 1, "mul": 1, "add": 1}))
	qt.Assert(t, qt.HasLen(got.Hash, 16))
	// Both products are recorded; they only meet in the hash table.
	qt.Assert(t, qt.HasLen(got.Graph.Nodes, 4))
	qt.Assert(t, qt.Equals(got.Graph.Nodes[1].Hash, got.Graph.Nodes[2].Hash))
}

const sqManifest = `function \"sq\" {\n  input \"x\" {}\n  output \"y\" { value = x * x + 2 }\n}\n`

func TestGenerate(t *testing.T) {
	resp := call(t, `{"tool": "generate", "params": {"manifest": "`+sqManifest+`", "dialect": "go", "unit": "kernels"}}`)
	qt.Assert(t, qt.Equals(resp.Error, ""))
	qt.Assert(t, qt.StringContains(resp.String, "package kernels\n"))
	qt.Assert(t, qt.StringContains(resp.String, "func sq(x float64, y *float64) {\n"))
	out := resp.Result.([]emitted)
	qt.Assert(t, qt.HasLen(out, 1))
	qt.Assert(t, qt.Equals(out[0].Function, "sq"))

	resp = call(t, `{"tool": "generate", "params": {"manifest": "`+sqManifest+`", "dialect": "rust"}}`)
	qt.Assert(t, qt.Equals(resp.Error, `autogen: unknown dialect "rust"`))

	resp = call(t, `{"tool": "generate", "params": {"manifest": "`+sqManifest+`", "function": "cube"}}`)
	qt.Assert(t, qt.Equals(resp.Error, `function "cube" not found`))
}

func TestRun(t *testing.T) {
	resp := call(t, `{"tool": "run", "params": {"manifest": "`+sqManifest+`", "values": {"x": 3}}}`)
	qt.Assert(t, qt.Equals(resp.Error, ""))
	qt.Assert(t, qt.DeepEquals(resp.Result, any(map[string]runner.Values{"sq": {"y": {11}}})))
	qt.Assert(t, qt.Equals(resp.String, "sq.y = [11]"))

	resp = call(t, `{"tool": "run", "params": {"manifest": "`+sqManifest+`", "values": {}}}`)
	qt.Assert(t, qt.Equals(resp.Error, `sq: input "x" not bound`))
}

func TestUnknownTool(t *testing.T) {
	resp := call(t, `{"tool": "simplify", "params": {}}`)
	qt.Assert(t, qt.Equals(resp.Error, "unknown tool: simplify"))
}

func TestMCPToolSpec(t *testing.T) {
	var spec struct {
		Tools []struct {
			Name        string `json:"name"`
			InputSchema struct {
				Required []string `json:"required"`
			} `json:"inputSchema"`
		} `json:"tools"`
	}
	qt.Assert(t, qt.IsNil(json.Unmarshal([]byte(MCPToolSpec()), &spec)))
	var names []string
	for _, tool := range spec.Tools {
		names = append(names, tool.Name)
		_, ok := handlers[tool.Name]
		qt.Assert(t, qt.IsTrue(ok), qt.Commentf("tool %s has no handler", tool.Name))
	}
	qt.Assert(t, qt.HasLen(names, len(handlers)))

	resp := call(t, `{"tool": "mcp_spec"}`)
	qt.Assert(t, qt.Equals(string(resp.Result.(json.RawMessage)), MCPToolSpec()))
}
