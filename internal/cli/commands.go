package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/njchilds90/goautogen"
	"github.com/njchilds90/goautogen/internal/manifest"
	"github.com/njchilds90/goautogen/internal/runner"
)

func newGenerateCmd(c *Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate [flags] manifest...",
		Short: "emit code for every function in the manifests",
		Long: `generate records each function, its gradient and Hessian when requested,
and writes all of them as one C++ translation unit or Go file.

Without --out the file is written to standard output. With --out it is
written to <out>/<unit><ext>, where unit defaults to "generated".
`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: mkRunE(c, runGenerate),
	}
	addFunctionFlag(cmd.Flags())
	cmd.Flags().StringP(string(flagOut), "o", "", "output directory")
	cmd.Flags().String(string(flagUnit), "", "C++ namespace or Go package of the generated file")
	return cmd
}

func runGenerate(c *Command, args []string) error {
	m, err := c.loadManifest(args)
	if err != nil {
		return err
	}
	fns, err := c.functions(m)
	if err != nil {
		return err
	}
	codes := make([]string, 0, len(fns))
	for _, f := range fns {
		u, err := manifest.Build(c.Context(), f, c.config.Options()...)
		if err != nil {
			return err
		}
		codes = append(codes, u.Code)
	}
	d := c.config.Dialect
	src := d.File(c.config.Unit, codes...)
	if c.config.OutDir == "" {
		_, err := fmt.Fprint(c.OutOrStdout(), src)
		return err
	}
	if err := os.MkdirAll(c.config.OutDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}
	name := c.config.Unit
	if name == "" {
		name = "generated"
	}
	path := filepath.Join(c.config.OutDir, name+d.Ext())
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		return errors.Wrap(err, "failed to write generated code")
	}
	c.logger.Info("Generated code written", "path", path, "functions", len(codes))
	return nil
}

func newEvalCmd(c *Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval [flags] manifest...",
		Short: "evaluate outputs and derivatives directly, without emitting code",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE:  mkRunE(c, runEval),
	}
	addFunctionFlag(cmd.Flags())
	addInputFlags(cmd.Flags())
	addFormatFlag(cmd.Flags(), "text")
	return cmd
}

func runEval(c *Command, args []string) error {
	return c.forEachFunction(args, func(f *manifest.Function, in manifest.Values) (manifest.Values, error) {
		return manifest.Evaluate(f, in)
	})
}

func newRunCmd(c *Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags] manifest...",
		Short: "emit each function and execute the emitted code",
		Long: `run emits each function like generate does and then executes the emitted
statements one by one. With --check the results are compared against
direct evaluation of the formulas.
`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: mkRunE(c, runRun),
	}
	addFunctionFlag(cmd.Flags())
	addInputFlags(cmd.Flags())
	addFormatFlag(cmd.Flags(), "text")
	cmd.Flags().Bool(string(flagCheck), false, "compare against direct evaluation")
	return cmd
}

func runRun(c *Command, args []string) error {
	check := flagCheck.Bool(c)
	return c.forEachFunction(args, func(f *manifest.Function, in manifest.Values) (manifest.Values, error) {
		u, err := manifest.Build(c.Context(), f, c.config.Options()...)
		if err != nil {
			return nil, err
		}
		out, err := runner.Run(u.Code, f.Name, runner.Values(in))
		if err != nil {
			return nil, err
		}
		got := manifest.Values(out)
		if !check {
			return got, nil
		}
		want, err := manifest.Evaluate(f, in)
		if err != nil {
			return nil, err
		}
		if diff := cmp.Diff(want, got, cmpopts.EquateApprox(1e-9, 1e-12), cmpopts.EquateNaNs()); diff != "" {
			return nil, errors.Errorf("function %s: emitted code disagrees with direct evaluation (-want +got):\n%s", f.Name, diff)
		}
		c.logger.Info("Emitted code matches direct evaluation", "function", f.Name)
		return got, nil
	})
}

type result struct {
	Function string          `json:"function" yaml:"function"`
	Values   manifest.Values `json:"values" yaml:"values"`
	order    []string
}

func (c *Command) forEachFunction(args []string, fn func(*manifest.Function, manifest.Values) (manifest.Values, error)) error {
	m, err := c.loadManifest(args)
	if err != nil {
		return err
	}
	fns, err := c.functions(m)
	if err != nil {
		return err
	}
	in, err := c.inputs()
	if err != nil {
		return err
	}
	var results []result
	for _, f := range fns {
		out, err := fn(f, in)
		if err != nil {
			return err
		}
		results = append(results, result{Function: f.Name, Values: out, order: outputOrder(f)})
	}
	return c.print(results, func(b *strings.Builder) {
		for _, r := range results {
			for _, name := range r.order {
				vs, ok := r.Values[name]
				if !ok {
					continue
				}
				fmt.Fprintf(b, "%s.%s = %s\n", r.Function, name, formatValues(vs))
			}
		}
	})
}

// outputOrder lists result names as the emitted parameter list does.
func outputOrder(f *manifest.Function) []string {
	var out []string
	for _, o := range f.Outputs {
		out = append(out, o.Name)
	}
	if f.Gradient {
		out = append(out, manifest.GradientName)
	}
	if f.Hessian {
		out = append(out, manifest.HessianName)
	}
	return out
}

func formatValues(vs []float64) string {
	if len(vs) == 1 {
		return strconv.FormatFloat(vs[0], 'g', -1, 64)
	}
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// print writes v in the --format the command was given; text uses the
// writer supplied by the command.
func (c *Command) print(v any, text func(*strings.Builder)) error {
	var data []byte
	var err error
	switch format := flagFormat.String(c); format {
	case "text":
		var b strings.Builder
		text(&b)
		data = []byte(b.String())
	case "json":
		data, err = json.MarshalIndent(v, "", "  ")
		data = append(data, '\n')
	case "yaml":
		data, err = yaml.Marshal(v)
	default:
		return usageError(errors.Errorf("invalid format %q: must be text, json or yaml", format))
	}
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = c.OutOrStdout().Write(data)
	return err
}

func newInspectCmd(c *Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [flags] manifest...",
		Short: "report parameters and statement counts of the emitted functions",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE:  mkRunE(c, runInspect),
	}
	addFunctionFlag(cmd.Flags())
	addFormatFlag(cmd.Flags(), "yaml")
	cmd.Flags().Bool(string(flagGraph), false, "include a dump of the recorded graph")
	return cmd
}

type report struct {
	Function   string            `json:"function" yaml:"function"`
	Dialect    autogen.Dialect   `json:"dialect" yaml:"dialect"`
	Params     []autogen.Param   `json:"params" yaml:"params"`
	Statements int               `json:"statements" yaml:"statements"`
	Stats      autogen.Stats     `json:"stats" yaml:"stats"`
	Graph      *autogen.Snapshot `json:"graph,omitempty" yaml:"graph,omitempty"`
}

func runInspect(c *Command, args []string) error {
	m, err := c.loadManifest(args)
	if err != nil {
		return err
	}
	fns, err := c.functions(m)
	if err != nil {
		return err
	}
	withGraph := flagGraph.Bool(c)
	var reports []report
	for _, f := range fns {
		u, err := manifest.Build(c.Context(), f, c.config.Options()...)
		if err != nil {
			return err
		}
		r := report{
			Function:   f.Name,
			Dialect:    u.Generator.Dialect(),
			Params:     u.Params,
			Statements: len(u.Generator.Schedule()),
			Stats:      u.Stats,
		}
		if withGraph {
			g := u.Generator.Graph()
			var roots []autogen.Expr
			for _, id := range u.Generator.Registered() {
				if g.Kind(id) == autogen.KindResult {
					roots = append(roots, g.Ref(id))
				}
			}
			s := autogen.TakeSnapshot(roots...)
			r.Graph = &s
		}
		reports = append(reports, r)
	}
	return c.print(reports, func(b *strings.Builder) {
		for _, r := range reports {
			fmt.Fprintf(b, "%s: %d statements, %d inputs, %d interior, %d outputs, %d cse hits\n",
				r.Function, r.Statements, r.Stats.Inputs, r.Stats.Interior, r.Stats.Outputs, r.Stats.CSEHits)
		}
	})
}
