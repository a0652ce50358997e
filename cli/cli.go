// Package cli implements the command-line front-end: it scans in-process and
// prints one line (or one JSON object) per port.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/gopacket/layers"

	"portscan/logging"
	"portscan/scanner"
)

// PortScanner runs one range scan. *scanner.Scanner satisfies it.
type PortScanner interface {
	Scan(ctx context.Context, host string, start, end int) ([]scanner.PortResult, error)
}

// ScannerFactory returns a scanner that keeps working until ctx is cancelled.
type ScannerFactory func(ctx context.Context, timeout time.Duration) (PortScanner, error)

// Result is one port of one host as printed by the CLI.
type Result struct {
	Host    string            `json:"host"`
	Port    uint16            `json:"port"`
	State   scanner.PortState `json:"state"`
	Service string            `json:"service,omitempty"`
}

// Run parses args, scans every host and writes the report to stdout. It
// returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return run(ctx, args, stdout, stderr, newScanner)
}

func newScanner(ctx context.Context, timeout time.Duration) (PortScanner, error) {
	sc, err := scanner.New(scanner.WithTimeout(timeout), scanner.WithLogger(logging.Logger()))
	if err != nil {
		return nil, err
	}
	go func() {
		if err := sc.Run(ctx); err != nil {
			logging.Logger().Error("scanner stopped", "error", err)
		}
	}()
	return sc, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, factory ScannerFactory) int {
	flags := flag.NewFlagSet("portscan", flag.ContinueOnError)
	flags.SetOutput(stderr)
	jsonOutput := flags.Bool("json", false, "Output results in JSON format")
	timeout := flags.Duration("timeout", scanner.DefaultPortTimeout, "Per-port timeout")
	flags.Usage = func() { printUsage(stderr, flags) }

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	rest := flags.Args()
	if len(rest) < 2 {
		printUsage(stderr, flags)
		return 2
	}
	if *timeout <= 0 {
		fmt.Fprintln(stderr, "Error: timeout must be positive")
		return 2
	}

	hosts := rest[:len(rest)-1]
	startPort, endPort, err := parsePortRange(rest[len(rest)-1])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := scanner.ValidateRange(startPort, endPort); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sc, err := factory(ctx, *timeout)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var results []Result
	for _, host := range hosts {
		ports, err := sc.Scan(ctx, host, startPort, endPort)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %s: %v\n", host, err)
			return 1
		}
		for _, p := range ports {
			results = append(results, Result{
				Host:    host,
				Port:    p.Port,
				State:   p.State,
				Service: serviceName(p.Port),
			})
		}
	}

	if *jsonOutput {
		if err := outputJSON(stdout, results); err != nil {
			fmt.Fprintf(stderr, "Error encoding to JSON: %v\n", err)
			return 1
		}
		return 0
	}
	outputPlainText(stdout, results)
	return 0
}

func printUsage(w io.Writer, flags *flag.FlagSet) {
	fmt.Fprintln(w, "Usage: portscan [--json] [--timeout 2s] host1 host2... startPort[-endPort]")
	fmt.Fprintln(w, "       portscan serve")
	fmt.Fprintln(w, "Example: portscan --json 127.0.0.1 20-25")
	fmt.Fprintln(w, "Example: portscan --timeout 500ms scanme.example 443")
	flags.PrintDefaults()
}

// parsePortRange extracts start and end port from "start-end" or a single "port".
func parsePortRange(portRange string) (int, int, error) {
	startRaw, endRaw, isRange := strings.Cut(portRange, "-")
	if !isRange {
		endRaw = startRaw
	}

	startPort, err := strconv.Atoi(startRaw)
	if err != nil {
		return 0, 0, fmt.Errorf("start port is not a number: %s", startRaw)
	}

	endPort, err := strconv.Atoi(endRaw)
	if err != nil {
		return 0, 0, fmt.Errorf("end port is not a number: %s", endRaw)
	}

	return startPort, endPort, nil
}

// serviceName returns the well-known TCP service for port, if any.
func serviceName(port uint16) string {
	name := layers.TCPPort(port).String()
	open := strings.IndexByte(name, '(')
	if open < 0 || !strings.HasSuffix(name, ")") {
		return ""
	}
	return name[open+1 : len(name)-1]
}

// outputJSON writes results as an indented JSON array.
func outputJSON(w io.Writer, results []Result) error {
	if results == nil {
		results = []Result{}
	}
	jsonData, err := json.MarshalIndent(results, "", "    ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(jsonData))
	return err
}

// outputPlainText prints results in human-readable format.
func outputPlainText(w io.Writer, results []Result) {
	for _, result := range results {
		if result.Service != "" {
			fmt.Fprintf(w, "%s:%d - %s - %s\n", result.Host, result.Port, result.State, result.Service)
		} else {
			fmt.Fprintf(w, "%s:%d - %s\n", result.Host, result.Port, result.State)
		}
	}
}
