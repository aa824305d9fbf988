package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/njchilds90/goautogen"
	"github.com/njchilds90/goautogen/internal/ctxlog"
	"github.com/njchilds90/goautogen/internal/manifest"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(err error) error {
	return &ExitError{Code: 2, Message: err.Error()}
}

// Command is the root command together with the state set up before any
// subcommand runs.
type Command struct {
	*cobra.Command

	root   *cobra.Command
	config *Config
	logger *slog.Logger
}

type runFunction func(cmd *Command, args []string) error

func mkRunE(c *Command, f runFunction) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c.Command = cmd
		return f(c, args)
	}
}

// usageArgs turns argument count errors into exit code 2.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}

func newRootCmd() *Command {
	cmd := &cobra.Command{
		Use:   "autogen",
		Short: "autogen records formulas and emits straight-line derivative code.",
		Long: `autogen reads functions from HCL manifests, records their outputs and
requested derivatives as expression graphs, removes common subexpressions
and emits one straight-line C++ or Go function per manifest entry.

A manifest looks like:

	function "energy" {
	  input "x" {}
	  input "q" { size = 2 }
	  output "E" { value = x * (q[0]*q[0] + q[1]*q[1]) }
	  gradient = true
	}
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c := &Command{Command: cmd, root: cmd}
	cmd.PersistentPreRunE = mkRunE(c, setup)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError(err) })
	addGlobalFlags(cmd.PersistentFlags())

	for _, sub := range []*cobra.Command{
		newGenerateCmd(c),
		newEvalCmd(c),
		newRunCmd(c),
		newInspectCmd(c),
	} {
		cmd.AddCommand(sub)
	}
	return c
}

// setup merges the config file with the flags and installs the logger.
func setup(c *Command, _ []string) error {
	cfg := DefaultConfig()
	if path := flagConfig.String(c); path != "" {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return usageError(err)
		}
	}
	if flagDialect.Changed(c) {
		d, err := autogen.ParseDialect(flagDialect.String(c))
		if err != nil {
			return usageError(err)
		}
		cfg.Dialect = d
	}
	if flagScalarType.Changed(c) {
		cfg.ScalarType = flagScalarType.String(c)
	}
	if flagLogLevel.Changed(c) {
		cfg.LogLevel = flagLogLevel.String(c)
	}
	if flagLogFormat.Changed(c) {
		cfg.LogFormat = flagLogFormat.String(c)
	}
	if flagCollisionCheck.Changed(c) {
		cfg.CollisionCheck = flagCollisionCheck.Bool(c)
	}
	if c.Flags().Lookup(string(flagOut)) != nil && flagOut.Changed(c) {
		cfg.OutDir = flagOut.String(c)
	}
	if c.Flags().Lookup(string(flagUnit)) != nil && flagUnit.Changed(c) {
		cfg.Unit = flagUnit.String(c)
	}
	valid, err := NewConfig(cfg)
	if err != nil {
		return usageError(err)
	}
	c.config = valid
	c.logger = newLogger(valid.LogLevel, valid.LogFormat, c.ErrOrStderr())
	c.SetContext(ctxlog.WithLogger(c.Context(), c.logger))
	c.logger.Debug("Configuration resolved", "dialect", valid.Dialect, "scalar_type", valid.ScalarType, "out_dir", valid.OutDir)
	return nil
}

// Main runs the command with the process arguments and returns the exit
// code.
func Main() int {
	err := Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, exitErr.Message)
		return exitErr.Code
	}
	fmt.Fprintln(os.Stderr, err)
	return 1
}

// Execute runs one command line. Recording faults, which panic inside the
// engine, come back as errors.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("internal error: %v", r)
		}
	}()
	c := newRootCmd()
	c.root.SetArgs(args)
	c.root.SetOut(stdout)
	c.root.SetErr(stderr)
	return c.root.ExecuteContext(ctx)
}

// loadManifest reads every path; directories contribute their *.hcl files
// in name order.
func (c *Command) loadManifest(paths []string) (*manifest.Manifest, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read manifest")
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(p, "*.hcl"))
		if err != nil {
			return nil, errors.WithStack(err)
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, usageError(errors.New("no manifest files found"))
	}
	return manifest.LoadFiles(c.Context(), files...)
}

// functions returns the functions selected by --function.
func (c *Command) functions(m *manifest.Manifest) ([]*manifest.Function, error) {
	name := flagFunction.String(c)
	if name == "" {
		return m.Functions, nil
	}
	f, ok := m.Lookup(name)
	if !ok {
		return nil, usageError(errors.Errorf("function %q not found", name))
	}
	return []*manifest.Function{f}, nil
}

// inputs merges --values and then --set.
func (c *Command) inputs() (manifest.Values, error) {
	in := make(manifest.Values)
	if path := flagValues.String(c); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read values")
		}
		if err := parseValues(data, in); err != nil {
			return nil, usageError(err)
		}
	}
	if err := parseSet(flagSet.StringArray(c), in); err != nil {
		return nil, usageError(err)
	}
	return in, nil
}
