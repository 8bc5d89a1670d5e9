// Package config loads lazyjit run configuration.
//
// Files may be CUE, TOML or YAML. Whatever the format, the document is
// unified with the CUE schema in schema.cue, which supplies defaults and
// rejects unknown fields and out-of-range values, and then decoded into
// Config.
package config

import (
	"debug/elf"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Config is the resolved run configuration.
type Config struct {
	MainLibrary      string   `json:"main_library"`
	GlobalPrefix     string   `json:"global_prefix"`
	ReservedPrefixes []string `json:"reserved_prefixes"`
	// Target is "none", "x86_64", "aarch64" or "riscv64".
	Target  string `json:"target"`
	Workers int    `json:"workers"`
	// Compiler is "stub" or "llc".
	Compiler  string `json:"compiler"`
	LLCPath   string `json:"llc_path"`
	StorePath string `json:"store_path"`
	LogLevel  string `json:"log_level"`
}

// Default returns the configuration used when no file is given. It matches
// the defaults in schema.cue.
func Default() Config {
	return Config{
		MainLibrary:      "main",
		ReservedPrefixes: []string{"llvm."},
		Target:           "none",
		Workers:          1,
		Compiler:         "stub",
		LLCPath:          "llc",
		LogLevel:         "info",
	}
}

// Error reports an invalid configuration, with a source position when the
// CUE evaluator supplies one.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads path and resolves it against the schema. The format is chosen
// by extension: .cue, .toml, .yaml or .yml.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(filepath.Base(path), data)
}

// Parse resolves data, whose format is taken from name's extension.
func Parse(name string, data []byte) (Config, error) {
	ctx := cuecontext.New()

	var doc cue.Value
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".cue":
		doc = ctx.CompileBytes(data, cue.Filename(name))
	case ".toml":
		tree, err := toml.LoadBytes(data)
		if err != nil {
			return Config{}, &Error{Field: "toml", Message: err.Error()}
		}
		doc = ctx.Encode(tree.ToMap())
	case ".yaml", ".yml":
		raw := map[string]any{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, &Error{Field: "yaml", Message: err.Error()}
		}
		doc = ctx.Encode(raw)
	default:
		return Config{}, fmt.Errorf("unsupported config format %q (want .cue, .toml, .yaml or .yml)", ext)
	}
	if err := doc.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}

	v := schema.Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, formatCUEError(err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return Config{}, formatCUEError(err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks constraints that span fields.
func (c Config) Validate() error {
	if c.MainLibrary == "" {
		return &Error{Field: "main_library", Message: "must not be empty"}
	}
	if c.Workers < 1 {
		return &Error{Field: "workers", Message: fmt.Sprintf("must be at least 1, got %d", c.Workers)}
	}
	if c.Compiler == "llc" && c.LLCPath == "" {
		return &Error{Field: "llc_path", Message: "required when compiler is llc"}
	}
	for _, p := range c.ReservedPrefixes {
		if p == "" {
			return &Error{Field: "reserved_prefixes", Message: "empty prefix would reserve every name"}
		}
	}
	if _, ok := machines[c.Target]; !ok {
		return &Error{Field: "target", Message: fmt.Sprintf("unknown target %q", c.Target)}
	}
	if _, ok := levels[c.LogLevel]; !ok {
		return &Error{Field: "log_level", Message: fmt.Sprintf("unknown level %q", c.LogLevel)}
	}
	return nil
}

var machines = map[string]elf.Machine{
	"none":    elf.EM_NONE,
	"x86_64":  elf.EM_X86_64,
	"aarch64": elf.EM_AARCH64,
	"riscv64": elf.EM_RISCV,
}

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Machine returns the ELF machine for Target. EM_NONE accepts any machine.
func (c Config) Machine() elf.Machine {
	return machines[c.Target]
}

// ObjectMachine returns the machine compiled objects are written for:
// Target, or x86-64 when Target is "none".
func (c Config) ObjectMachine() elf.Machine {
	if m := c.Machine(); m != elf.EM_NONE {
		return m
	}
	return elf.EM_X86_64
}

// Level returns the slog level for LogLevel.
func (c Config) Level() slog.Level {
	if l, ok := levels[c.LogLevel]; ok {
		return l
	}
	return slog.LevelInfo
}

// Map returns the configuration as a plain map, for canonical storage.
func (c Config) Map() map[string]any {
	reserved := make([]any, len(c.ReservedPrefixes))
	for i, p := range c.ReservedPrefixes {
		reserved[i] = p
	}
	return map[string]any{
		"main_library":      c.MainLibrary,
		"global_prefix":     c.GlobalPrefix,
		"reserved_prefixes": reserved,
		"target":            c.Target,
		"workers":           c.Workers,
		"compiler":          c.Compiler,
		"llc_path":          c.LLCPath,
		"store_path":        c.StorePath,
		"log_level":         c.LogLevel,
	}
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := cueerrors.Positions(first)
	if len(positions) > 0 {
		return &Error{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return &Error{Field: "cue", Message: first.Error()}
}
