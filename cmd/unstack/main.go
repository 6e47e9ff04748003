// unstack rebuilds expression trees from stack bytecode and prints one
// statement per line.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/unstack/config"
	"github.com/chazu/unstack/pkg/store"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run is main without os.Exit, so deferred cleanup runs on every path.
func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("unstack", flag.ContinueOnError)
	flags.SetOutput(stderr)
	verbose := flags.Int("v", -1, "Log verbosity (0 quiet, 1 info, 2 debug); overrides [log] verbosity")
	configDir := flags.String("config", "", "Directory containing unstack.toml (default: search upward from the working directory)")
	dbPath := flags.String("db", "", "Results database; unchanged methods are not reconstructed again")
	jobs := flags.Int("j", 0, "Methods reconstructed at once (default: one per CPU)")
	format := flags.String("format", "", "Output format: text or cbor")
	disasm := flags.Bool("disasm", false, "Print the disassembly before each module")
	dump := flags.Bool("dump", false, "Dump the raw instruction structures of each method")
	trace := flags.Bool("trace", false, "Log every callback and the resulting tail instruction")

	flags.Usage = func() {
		fmt.Fprintf(stderr, "Usage: unstack [options] files...\n\n")
		fmt.Fprintf(stderr, "Reconstructs expression statements from the methods in .usm assembly\n")
		fmt.Fprintf(stderr, "files or serialized bytecode modules.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		flags.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  unstack Example.usm                 # Print listings\n")
		fmt.Fprintf(stderr, "  unstack -disasm -v 2 Example.usm    # With disassembly and debug logging\n")
		fmt.Fprintf(stderr, "  unstack -db results.db classes/*.usbm  # Skip methods unchanged since the last run\n")
		fmt.Fprintf(stderr, "  unstack -format cbor Example.usm > Example.cbor\n")
	}
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return 2
	}

	cfg, err := loadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Flags override the file.
	if *verbose >= 0 {
		cfg.Log.Verbosity = *verbose
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *jobs > 0 {
		cfg.Decompile.Limit = *jobs
	}
	if *format != "" {
		cfg.Output.Format = *format
	}
	cfg.Output.Disasm = cfg.Output.Disasm || *disasm
	cfg.Decompile.Trace = cfg.Decompile.Trace || *trace
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var logPath *string
	if cfg.Log.Path != "" {
		logPath = &cfg.Log.Path
	}
	commonlog.Configure(cfg.Log.Verbosity, logPath)

	r := &runner{
		cfg:    cfg,
		out:    stdout,
		errOut: stderr,
		dump:   *dump,
	}

	if cfg.Store.Path != "" {
		r.store, err = store.Open(cfg.Store.Path)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer r.store.Close()
	}

	failed := 0
	for _, path := range flags.Args() {
		m, err := loadFile(path)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		n, err := r.process(context.Background(), m)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %s: %v\n", path, err)
			return 1
		}
		failed += n
	}

	if failed > 0 {
		return 1
	}
	return 0
}

func loadConfig(dir string) (*config.Config, error) {
	if dir != "" {
		return config.Load(dir)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}
