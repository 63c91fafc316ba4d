// Package main implements the gcsim CLI tool.
//
// gcsim builds an object graph described by a YAML scenario in a simulated
// heap, runs the young and full collections the scenario lists and prints
// what each of them did.
//
// Usage:
//
//	gcsim run churn.yaml           # Run a scenario
//	gcsim run -format json s.yaml  # Machine-readable report
//	gcsim config                   # Print the default configuration
//
// Scenario files may be compressed with gzip (.gz), snappy (.sz), lz4
// (.lz4) or zstd (.zst).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kolkov/gcengine/gc"
	"github.com/kolkov/gcengine/internal/config"
	"github.com/kolkov/gcengine/internal/logging"
	"github.com/kolkov/gcengine/internal/metrics"
)

func main() {
	os.Exit(dispatch(os.Args[1:], os.Stdout, os.Stderr))
}

func dispatch(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	switch args[0] {
	case "run":
		return runCommand(args[1:], stdout, stderr)
	case "config":
		return configCommand(args[1:], stdout, stderr)
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "gcsim version %s (scenario format %s)\n", gc.Version, FormatVersion)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `gcsim - generational collector simulator

USAGE:
    gcsim <command> [arguments]

COMMANDS:
    run        Run a scenario and print a cycle report
    config     Print the default (or a loaded) configuration
    version    Show version information
    help       Show this help message

RUN FLAGS:
    -format text|json    Report format (default text)
    -metrics ADDR        Serve Prometheus metrics on ADDR while running
    -linger DURATION     Keep serving metrics this long after the run
    -log-level LEVEL     debug, info, warn or error (default from config)

SCENARIO FORMAT:
    version: v1.1.0
    config:                 # optional overrides of gcsim config
      heap: {regions: 16, regionWords: 1024}
    types:
      - {name: node, words: 2, refs: [0]}
      - {name: buf, array: data}
    objects:
      - {id: a, type: node, refs: {0: b}, data: {1: 7}}
      - {id: b, type: buf, length: 16, space: old}
    roots:
      - {name: head, object: a, kind: local, thread: 0}
    steps:
      - young
      - {action: churn, type: node, count: 1000, keep: 10}
      - {action: drop, root: head}
      - full
      - verify

EXAMPLES:
    gcsim run testdata/basic.yaml
    gcsim run -format json -metrics :9090 -linger 30s big.yaml.zst

`)
}

// runCommand implements 'gcsim run'.
func runCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	format := fs.String("format", "text", "report format: text or json")
	metricsAddr := fs.String("metrics", "", "serve Prometheus metrics on this address")
	linger := fs.Duration("linger", 0, "keep serving metrics after the run")
	logLevel := fs.String("log-level", "", "log level override")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Error: run takes exactly one scenario file")
		return 2
	}
	if *format != "text" && *format != "json" {
		fmt.Fprintf(stderr, "Error: unknown format %q\n", *format)
		return 2
	}

	s, err := LoadScenario(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	cfg, err := s.RuntimeConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	level := cfg.Observability.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(level),
		Format: logging.ParseFormat(cfg.Observability.LogFormat),
		Output: stderr,
	})
	opts := []gc.Option{gc.WithLogger(log)}

	addr := cfg.Observability.MetricsAddr
	if *metricsAddr != "" {
		addr = *metricsAddr
	}
	if addr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, gc.WithRegistry(reg))
		srv := metrics.NewServer(addr, reg)
		if err := srv.Start(); err != nil {
			fmt.Fprintf(stderr, "Error: metrics server: %v\n", err)
			return 1
		}
		defer func() {
			if *linger > 0 {
				log.Infof("serving metrics after run", map[string]any{"addr": srv.Addr(), "linger": linger.String()})
				select {
				case <-time.After(*linger):
				case err := <-srv.Err():
					log.Errorf("metrics server stopped", map[string]any{"error": err.Error()})
				}
			}
			_ = srv.Close()
		}()
		log.Infof("metrics server started", map[string]any{"addr": srv.Addr()})
	}

	rep, err := RunScenario(context.Background(), s, opts...)
	if err != nil {
		var se *ScenarioError
		if errors.As(err, &se) {
			fmt.Fprintf(stderr, "Error: %v\n", se)
		} else {
			fmt.Fprintf(stderr, "Error: run %s: %v\n", fs.Arg(0), err)
		}
		return 1
	}
	if *format == "json" {
		err = rep.WriteJSON(stdout)
	} else {
		err = rep.WriteText(stdout)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: write report: %v\n", err)
		return 1
	}
	return 0
}

// configCommand implements 'gcsim config [-f file]'.
func configCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("f", "", "load this configuration file (and GCENGINE_* overrides) instead of the defaults")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Default()
	if *file != "" {
		var err error
		if cfg, err = config.Load(*file); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}
	out, err := cfg.Marshal()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = stdout.Write(out)
	return 0
}
