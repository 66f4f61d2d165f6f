// Command shapevmctl assembles and runs shapevm assembly files.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shapevm/shapevm/pkg/code"
	"github.com/shapevm/shapevm/pkg/shape"
	"github.com/shapevm/shapevm/pkg/symtab"
	"github.com/shapevm/shapevm/pkg/vm"
	"github.com/shapevm/shapevm/pkg/vmasm"
)

var version = "0.1.0"

var outputFormat string

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "shapevmctl",
		Short:         "shapevmctl assembles and runs shape-typed stack VM programs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	runCmd := &cobra.Command{
		Use:   "run <file>",
		Short: "assemble and execute a program's toplevel label",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doRun(args[0], out, errOut)
		},
	}

	disasmCmd := &cobra.Command{
		Use:   "disasm <file>",
		Short: "assemble a program and print its code catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doDisasm(args[0], out, errOut)
		},
	}

	shapesCmd := &cobra.Command{
		Use:   "shapes <file>",
		Short: "assemble a program and dump its shape registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doShapes(args[0], out, errOut)
		},
	}
	shapesCmd.Flags().StringVar(&outputFormat, "format", "text", `output format: "text" or "yaml"`)

	rootCmd.AddCommand(runCmd, disasmCmd, shapesCmd)
	return rootCmd
}

func assembleFile(filename string, out io.Writer, in io.Reader) (*shape.Registry, *code.Catalog, error) {
	src, err := os.ReadFile(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("shapevmctl: reading %s: %w", filename, err)
	}
	reg := shape.NewRegistry()
	cat := code.NewCatalog()
	registerCharIO(cat, out, in)
	asm := vmasm.New(reg, cat)
	if err := asm.Assemble(string(src)); err != nil {
		return nil, nil, fmt.Errorf("shapevmctl: assembling %s: %w", filename, err)
	}
	return reg, cat, nil
}

func doRun(filename string, out, errOut io.Writer) error {
	reg, cat, err := assembleFile(filename, out, os.Stdin)
	if err != nil {
		return err
	}
	machine := vm.New(reg, cat, symtab.Shared())
	result, failed, err := machine.Run(code.Toplevel, nil)
	if err != nil {
		return fmt.Errorf("shapevmctl: running %s: %w", filename, err)
	}
	if failed {
		fmt.Fprintf(errOut, "shapevmctl: %s exited with the fail bit set\n", filename)
	}
	fmt.Fprintf(out, "%v\n", result)
	return nil
}

func doDisasm(filename string, out, errOut io.Writer) error {
	_, cat, err := assembleFile(filename, io.Discard, nil)
	if err != nil {
		return err
	}
	p := code.NewPrinter(out)
	p.Print(cat)
	return nil
}

// shapeDump is the YAML-serializable snapshot printed by `shapes
// --format=yaml`.
type shapeDump struct {
	Name   string      `yaml:"name"`
	Fields []fieldDump `yaml:"fields,omitempty"`
}

type fieldDump struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
}

func doShapes(filename string, out, errOut io.Writer) error {
	reg, _, err := assembleFile(filename, io.Discard, nil)
	if err != nil {
		return err
	}
	dumps := shapesDump(reg)
	if outputFormat == "yaml" {
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(dumps)
	}
	for _, d := range dumps {
		fmt.Fprintf(out, "%s\n", d.Name)
		for _, f := range d.Fields {
			fmt.Fprintf(out, "  %s %s\n", f.Name, f.Kind)
		}
	}
	return nil
}

func shapesDump(reg *shape.Registry) []shapeDump {
	var dumps []shapeDump
	for _, name := range reg.Names() {
		s, err := reg.Get(name)
		if err != nil {
			continue
		}
		d := shapeDump{Name: symtab.Name(name)}
		for _, fieldSym := range s.FieldNames() {
			d.Fields = append(d.Fields, fieldDump{
				Name: symtab.Name(fieldSym),
				Kind: s.TypeOf(fieldSym).Kind.String(),
			})
		}
		dumps = append(dumps, d)
	}
	return dumps
}
