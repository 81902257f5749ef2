// Package printer renders heap statistics and reclamation sets for people
// and for tools.
package printer

import (
	"fmt"
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/heap/selector"
)

const DefaultIndentSize = 2

// Format specifies the output format for printing.
type Format string

const (
	// FormatText outputs human-readable text format.
	FormatText Format = "text"

	// FormatJSON outputs JSON format.
	FormatJSON Format = "json"
)

// ParseFormat maps a flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatText, "":
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

// Options controls printing behavior.
type Options struct {
	// Format specifies output format (text, json).
	// Default: FormatText
	Format Format

	// IndentSize is the number of spaces per indent level (text format only).
	// Default: 2
	IndentSize int

	// Language selects digit grouping for raw byte counts (text format only).
	// Default: language.English
	Language language.Tag

	// ExactBytes prints raw byte counts next to the IEC sizes.
	// Default: false
	ExactBytes bool

	// ShowRegions lists the region indices of a reclamation set.
	// Default: true
	ShowRegions bool
}

// DefaultOptions returns sensible defaults for printing.
func DefaultOptions() Options {
	return Options{
		Format:      FormatText,
		IndentSize:  DefaultIndentSize,
		Language:    language.English,
		ShowRegions: true,
	}
}

// Printer writes stats and reclamation sets to a writer.
type Printer struct {
	opts Options
	w    io.Writer
	p    *message.Printer
}

// New creates a new Printer.
//
// Example:
//
//	p := printer.New(os.Stdout, printer.DefaultOptions())
//	p.PrintStats(h.Stats())
func New(w io.Writer, opts Options) *Printer {
	if opts.IndentSize <= 0 {
		opts.IndentSize = DefaultIndentSize
	}
	return &Printer{
		opts: opts,
		w:    w,
		p:    message.NewPrinter(opts.Language),
	}
}

// PrintStats prints an allocator snapshot.
func (p *Printer) PrintStats(s alloc.Stats) error {
	if p.opts.Format == FormatJSON {
		return p.printStatsJSON(s)
	}
	return p.printStatsText(s)
}

// PrintSet prints a reclamation set.
func (p *Printer) PrintSet(set *selector.ReclamationSet) error {
	if set == nil {
		return fmt.Errorf("printer: nil reclamation set")
	}
	if p.opts.Format == FormatJSON {
		return p.printSetJSON(set)
	}
	return p.printSetText(set)
}
