package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/lazyjit/internal/engine"
	"github.com/roach88/lazyjit/internal/objfile"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	OutputFile string
}

// CompileResult describes one written object.
type CompileResult struct {
	Input   string   `json:"input"`
	Output  string   `json:"output"`
	Bytes   int      `json:"bytes"`
	Symbols []string `json:"symbols"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <file.ll>",
		Short: "Compile LLVM IR to a relocatable object",
		Long: `Compile an LLVM IR module with the configured compiler and write the
relocatable ELF object the object layer would receive.

The stub compiler (the default) needs no toolchain. Set compiler: "llc"
in the config to shell out to llc instead.

Examples:
  lazyjit compile lib.ll
  lazyjit compile lib.ll -o /tmp/lib.o`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "", "output object file (default: input with .o extension)")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := opts.LoadConfig()
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeConfig, "invalid config", err)
	}
	in, err := LoadInput(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLoadFailed, "failed to load input", err)
	}
	m, err := in.Module()
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeLoadFailed, "failed to load input", err)
	}

	formatter.VerboseLog("Compiling %s with %s compiler", path, cfg.Compiler)
	obj, err := engine.NewCompiler(cfg).Compile(context.Background(), m)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "compilation failed", err)
	}

	out := opts.OutputFile
	if out == "" {
		out = strings.TrimSuffix(path, filepath.Ext(path)) + ".o"
	}
	if err := os.WriteFile(out, obj, 0o644); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, "writing output file", err)
	}

	result := CompileResult{Input: path, Output: out, Bytes: len(obj), Symbols: []string{}}
	if f, err := objfile.Parse(obj); err == nil {
		for _, s := range f.Symbols {
			if f.IsExternal(s) {
				result.Symbols = append(result.Symbols, s.Name)
			}
		}
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return formatter.Success(fmt.Sprintf("Compiled %s to %s (%d bytes, %d symbols)",
		result.Input, result.Output, result.Bytes, len(result.Symbols)))
}
