package cli

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/njchilds90/goautogen/internal/manifest"
)

type flagName string

const (
	flagConfig         flagName = "config"
	flagDialect        flagName = "dialect"
	flagScalarType     flagName = "scalar-type"
	flagLogLevel       flagName = "log-level"
	flagLogFormat      flagName = "log-format"
	flagCollisionCheck flagName = "collision-check"
	flagOut            flagName = "out"
	flagUnit           flagName = "unit"
	flagFunction       flagName = "function"
	flagSet            flagName = "set"
	flagValues         flagName = "values"
	flagFormat         flagName = "format"
	flagGraph          flagName = "graph"
	flagCheck          flagName = "check"
)

func addGlobalFlags(f *pflag.FlagSet) {
	f.StringP(string(flagConfig), "c", "", "YAML config file")
	f.StringP(string(flagDialect), "d", "cxx", "target language: cxx or go")
	f.String(string(flagScalarType), "", "parameter and temporary type (default double, or float64 for go)")
	f.String(string(flagLogLevel), "warn", "log level: debug, info, warn or error")
	f.String(string(flagLogFormat), "text", "log format: text or json")
	f.Bool(string(flagCollisionCheck), false, "compare node structure on every hash match")
}

func addFunctionFlag(f *pflag.FlagSet) {
	f.StringP(string(flagFunction), "f", "", "only process the named function")
}

func addInputFlags(f *pflag.FlagSet) {
	f.StringArrayP(string(flagSet), "s", nil, "bind an input: name=1.5 or name=1,2,3 for indexed inputs")
	f.String(string(flagValues), "", "YAML file mapping input names to a number or a list of numbers")
}

func addFormatFlag(f *pflag.FlagSet, def string) {
	f.String(string(flagFormat), def, "output format: text, json or yaml")
}

func (f flagName) String(c *Command) string {
	s, _ := c.Flags().GetString(string(f))
	return s
}

func (f flagName) StringArray(c *Command) []string {
	s, _ := c.Flags().GetStringArray(string(f))
	return s
}

func (f flagName) Bool(c *Command) bool {
	b, _ := c.Flags().GetBool(string(f))
	return b
}

func (f flagName) Changed(c *Command) bool {
	return c.Flags().Changed(string(f))
}

// parseSet reads --set arguments.
func parseSet(args []string, into manifest.Values) error {
	for _, a := range args {
		name, list, ok := strings.Cut(a, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return errors.Errorf("invalid --set %q: want name=value", a)
		}
		var xs []float64
		for _, s := range strings.Split(list, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return errors.Errorf("invalid --set %q: %q is not a number", a, s)
			}
			xs = append(xs, v)
		}
		into[name] = xs
	}
	return nil
}

// numbers decodes either a single number or a sequence of numbers.
type numbers []float64

func (n *numbers) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var v float64
		if err := node.Decode(&v); err != nil {
			return err
		}
		*n = numbers{v}
		return nil
	}
	var vs []float64
	if err := node.Decode(&vs); err != nil {
		return err
	}
	*n = vs
	return nil
}

func parseValues(data []byte, into manifest.Values) error {
	var raw map[string]numbers
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "failed to decode values")
	}
	for k, v := range raw {
		into[k] = v
	}
	return nil
}
