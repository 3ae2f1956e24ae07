// Command typeflow-dump runs the type analysis over YAML fixtures and prints
// the input and resolved type of every operation.
//
//	typeflow-dump [-log-level debug] [-config options.yaml] fixture.yaml...
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/speakeasy-api/typeflow/irtext"
	"github.com/speakeasy-api/typeflow/typeflow"
)

func main() {
	logLevel := flag.String("log-level", "", "log level: error, warn, info or debug (overrides options)")
	configPath := flag.String("config", "", "YAML file with analysis options")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: typeflow-dump [-log-level level] [-config file] fixture.yaml...")
		os.Exit(2)
	}

	base, err := loadBaseOptions(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	failed := false
	for _, path := range flag.Args() {
		if err := dump(path, base, *logLevel); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func loadBaseOptions(path string) (typeflow.Options, error) {
	if path == "" {
		return typeflow.DefaultOptions(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return typeflow.Options{}, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()
	return typeflow.LoadOptions(f)
}

func dump(path string, base typeflow.Options, logLevel string) error {
	fx, err := irtext.LoadFile(path)
	if err != nil {
		return err
	}
	opts, err := typeflow.DecodeOptions(fx.Options, base)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if logLevel != "" {
		opts.LogLevel = logLevel
	}

	a, err := typeflow.Analyze(fx.Graph, fx.Signature, fx.Module, opts)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	fmt.Printf("=== %s ===\n", fx.Name)
	return typeflow.WriteReport(os.Stdout, a)
}
