// Command driftgate is the pack authoring companion: it validates pack
// documents, prints canonical content hashes, runs static conflict
// detection over a pack directory, and evaluates a pack against a
// change snapshot captured as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/driftgate/driftgate/pkg/comparator"
	"github.com/driftgate/driftgate/pkg/conflict"
	"github.com/driftgate/driftgate/pkg/engine"
	"github.com/driftgate/driftgate/pkg/evalctx"
	"github.com/driftgate/driftgate/pkg/pack"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches subcommands. Split out of main for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "validate":
		return runValidate(args[2:], stdout, stderr)
	case "hash":
		return runHash(args[2:], stdout, stderr)
	case "conflicts":
		return runConflicts(args[2:], stdout, stderr, logger)
	case "eval":
		return runEval(args[2:], stdout, stderr, logger)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[1])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `usage: driftgate <command> [args]

commands:
  validate <dir|file>              validate pack documents
  hash <file>                      print the canonical content hash of a pack
  conflicts <dir>                  run static conflict detection over a pack set
  eval -pack <file> -context <f>   evaluate a pack against a change snapshot
`)
}

func runValidate(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: driftgate validate <dir|file>")
		return 2
	}
	packs, err := loadPath(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "validate: %v\n", err)
		return 1
	}
	for _, p := range packs {
		fmt.Fprintf(stdout, "ok  %s@%s  %s  (%d rules)\n", p.ID, p.Version, p.Hash, len(p.Rules))
	}
	return 0
}

func runHash(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: driftgate hash <file>")
		return 2
	}
	loader := pack.NewLoader(pack.NewValidator(nil), nil)
	p, err := loader.LoadFile(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "hash: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, p.Hash)
	return 0
}

func runConflicts(args []string, stdout, stderr io.Writer, logger *slog.Logger) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: driftgate conflicts <dir>")
		return 2
	}
	loader := pack.NewLoader(pack.NewValidator(nil), logger)
	packs, err := loader.LoadDir(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "conflicts: %v\n", err)
		return 1
	}

	conflicts := conflict.Detect(packs)
	if len(conflicts) == 0 {
		fmt.Fprintf(stdout, "no conflicts across %d packs\n", len(packs))
		return 0
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(conflicts); err != nil {
		fmt.Fprintf(stderr, "conflicts: encode: %v\n", err)
		return 1
	}
	// Conflicts are advisory; only error-severity ones fail the command.
	for _, c := range conflicts {
		if c.Severity == conflict.SeverityError {
			return 1
		}
	}
	return 0
}

func runEval(args []string, stdout, stderr io.Writer, logger *slog.Logger) int {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	fs.SetOutput(stderr)
	packPath := fs.String("pack", "", "pack document to evaluate")
	contextPath := fs.String("context", "", "change snapshot JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *packPath == "" || *contextPath == "" {
		fmt.Fprintln(stderr, "usage: driftgate eval -pack <file> -context <file>")
		return 2
	}

	loader := pack.NewLoader(pack.NewValidator(nil), logger)
	p, err := loader.LoadFile(*packPath)
	if err != nil {
		fmt.Fprintf(stderr, "eval: %v\n", err)
		return 1
	}

	raw, err := os.ReadFile(*contextPath)
	if err != nil {
		fmt.Fprintf(stderr, "eval: read context: %v\n", err)
		return 1
	}
	var change evalctx.Change
	if err := json.Unmarshal(raw, &change); err != nil {
		fmt.Fprintf(stderr, "eval: parse context: %v\n", err)
		return 1
	}

	eng, err := engine.New(engine.Options{
		Comparators: comparator.NewRegistry(),
		Logger:      logger,
	})
	if err != nil {
		fmt.Fprintf(stderr, "eval: %v\n", err)
		return 1
	}

	result := eng.Evaluate(context.Background(), &change, p)
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(stderr, "eval: encode: %v\n", err)
		return 1
	}
	if result.Decision == pack.DecisionBlock {
		return 1
	}
	return 0
}

func loadPath(path string) ([]*pack.Pack, error) {
	loader := pack.NewLoader(pack.NewValidator(nil), nil)
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return loader.LoadDir(path)
	}
	p, err := loader.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return []*pack.Pack{p}, nil
}
