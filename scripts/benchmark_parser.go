// Command benchmark_parser turns `go test -bench` output into a markdown report that
// compares memory backends. Benchmarks are expected to be named
// Benchmark<Operation>/<backend>/<size>-<procs>.
//
//	go test -run '^$' -bench . -benchmem ./pkg/heapkit | go run ./scripts
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// BenchmarkResult represents a parsed benchmark result.
type BenchmarkResult struct {
	Name        string
	Operation   string
	Backend     string
	Size        string
	Iterations  int
	NsPerOp     float64
	BytesPerOp  uint64
	AllocsPerOp int64
}

// Comparison holds one operation and size across all backends.
type Comparison struct {
	Operation string
	Size      string
	Results   map[string]BenchmarkResult
}

var (
	inputFile  = flag.String("input", "", "Input file with benchmark output (stdin if not specified)")
	outputFile = flag.String("output", "", "Output markdown file (stdout if not specified)")
	baseline   = flag.String("baseline", "fake", "Backend the others are compared against")
	quiet      = flag.Bool("quiet", false, "Suppress progress output")
)

// BenchmarkAllocFree/mmap/4.0_MiB-8    10000    12450 ns/op    48 B/op    1 allocs/op
var benchmarkRegex = regexp.MustCompile(
	`^(Benchmark\S+)\s+(\d+)\s+([\d.]+)\s+ns/op(?:\s+(\d+)\s+B/op)?(?:\s+(\d+)\s+allocs/op)?`,
)

func main() {
	flag.Parse()

	var in io.Reader = os.Stdin
	if *inputFile != "" {
		f, err := os.Open(*inputFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening input file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	results := parseBenchmarks(bufio.NewScanner(in))
	if !*quiet {
		fmt.Fprintf(os.Stderr, "Parsed %d benchmark results\n", len(results))
	}
	comparisons := groupComparisons(results)
	report := generateMarkdownReport(comparisons, *baseline)

	if *outputFile == "" {
		fmt.Fprint(os.Stdout, report)
		return
	}
	if err := os.WriteFile(*outputFile, []byte(report), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output file: %v\n", err)
		os.Exit(1)
	}
	if !*quiet {
		fmt.Fprintf(os.Stderr, "Report written to %s\n", *outputFile)
	}
}

func parseBenchmarks(scanner *bufio.Scanner) []BenchmarkResult {
	var results []BenchmarkResult
	for scanner.Scan() {
		line := scanner.Text()

		// Lines from `go test -json` carry the benchmark in Output.
		var event struct{ Output string }
		if err := json.Unmarshal([]byte(line), &event); err == nil && event.Output != "" {
			line = event.Output
		}

		m := benchmarkRegex.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		op, backend, size, ok := splitName(m[1])
		if !ok {
			continue
		}
		r := BenchmarkResult{Name: m[1], Operation: op, Backend: backend, Size: size}
		r.Iterations, _ = strconv.Atoi(m[2])
		r.NsPerOp, _ = strconv.ParseFloat(m[3], 64)
		if m[4] != "" {
			r.BytesPerOp, _ = strconv.ParseUint(m[4], 10, 64)
		}
		if m[5] != "" {
			r.AllocsPerOp, _ = strconv.ParseInt(m[5], 10, 64)
		}
		results = append(results, r)
	}
	return results
}

// splitName splits Benchmark<Operation>/<backend>/<size>-<procs>.
func splitName(name string) (op, backend, size string, ok bool) {
	parts := strings.Split(name, "/")
	if len(parts) != 3 {
		return "", "", "", false
	}
	size = parts[2]
	if i := strings.LastIndex(size, "-"); i > 0 {
		size = size[:i]
	}
	return strings.TrimPrefix(parts[0], "Benchmark"), parts[1], size, true
}

func groupComparisons(results []BenchmarkResult) []Comparison {
	type key struct{ op, size string }
	index := make(map[key]int)
	var out []Comparison
	for _, r := range results {
		k := key{r.Operation, r.Size}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, Comparison{Operation: r.Operation, Size: r.Size, Results: map[string]BenchmarkResult{}})
		}
		out[i].Results[r.Backend] = r
	}
	// Keep benchmark order within an operation.
	slices.SortStableFunc(out, func(a, b Comparison) int {
		return strings.Compare(a.Operation, b.Operation)
	})
	return out
}

func backends(comparisons []Comparison, baseline string) []string {
	var names []string
	for _, c := range comparisons {
		for name := range c.Results {
			if name != baseline && !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}
	slices.Sort(names)
	return names
}

func generateMarkdownReport(comparisons []Comparison, baseline string) string {
	var sb strings.Builder
	others := backends(comparisons, baseline)

	sb.WriteString("# Backend Benchmark Report\n\n")
	fmt.Fprintf(&sb, "Generated: %s\n\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "Baseline backend: `%s`. Ratios above 1.00x mean the backend is slower than the baseline.\n\n", baseline)

	sb.WriteString("## Summary\n\n")
	for _, name := range others {
		var total float64
		var n int
		for _, c := range comparisons {
			base, ok1 := c.Results[baseline]
			r, ok2 := c.Results[name]
			if ok1 && ok2 && base.NsPerOp > 0 {
				total += r.NsPerOp / base.NsPerOp
				n++
			}
		}
		if n > 0 {
			fmt.Fprintf(&sb, "- **%s**: %.2fx average over %d benchmarks\n", name, total/float64(n), n)
		}
	}
	sb.WriteString("\n")

	sb.WriteString("## Detailed Results\n\n")
	sb.WriteString("| Operation | Size | " + baseline + " (ns/op)")
	for _, name := range others {
		sb.WriteString(" | " + name + " (ns/op)")
	}
	sb.WriteString(" | Memory (B/op) |\n|---|---|---")
	for range others {
		sb.WriteString("|---")
	}
	sb.WriteString("|---|\n")

	for _, c := range comparisons {
		base, hasBase := c.Results[baseline]
		fmt.Fprintf(&sb, "| %s | %s | ", c.Operation, strings.ReplaceAll(c.Size, "_", " "))
		if hasBase {
			sb.WriteString(formatNs(base.NsPerOp))
		} else {
			sb.WriteString("*N/A*")
		}
		for _, name := range others {
			r, ok := c.Results[name]
			switch {
			case !ok:
				sb.WriteString(" | *N/A*")
			case hasBase && base.NsPerOp > 0:
				fmt.Fprintf(&sb, " | %s (%.2fx)", formatNs(r.NsPerOp), r.NsPerOp/base.NsPerOp)
			default:
				sb.WriteString(" | " + formatNs(r.NsPerOp))
			}
		}
		fmt.Fprintf(&sb, " | %s |\n", humanize.IBytes(base.BytesPerOp))
	}
	return sb.String()
}

func formatNs(ns float64) string {
	return time.Duration(ns).String()
}
