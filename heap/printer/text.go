package printer

import (
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/heap/selector"
)

func (p *Printer) indent(depth int) string {
	return strings.Repeat(" ", depth*p.opts.IndentSize)
}

// size formats a byte count as an IEC size, optionally followed by the
// grouped raw count.
func (p *Printer) size(v uint64) string {
	if p.opts.ExactBytes {
		return p.p.Sprintf("%s (%d bytes)", humanize.IBytes(v), v)
	}
	return humanize.IBytes(v)
}

func (p *Printer) line(depth int, label string, value string) {
	p.p.Fprintf(p.w, "%s%-18s %s\n", p.indent(depth), label+":", value)
}

func (p *Printer) printStatsText(s alloc.Stats) error {
	c := s.Capacity
	p.p.Fprintf(p.w, "Capacity\n")
	p.line(1, "max", p.size(c.Max))
	p.line(1, "current max", p.size(c.CurrentMax))
	p.line(1, "soft max", p.size(c.SoftMax))
	p.line(1, "min", p.size(c.Min))
	p.line(1, "committed", p.size(c.Committed))
	p.line(1, "used", p.size(c.Used))
	p.line(1, "claimed", p.size(c.Claimed))
	p.line(1, "available", p.size(c.Available()))
	p.line(1, "used high", p.size(c.UsedHigh))
	p.line(1, "used low", p.size(c.UsedLow))
	p.line(1, "mutator allocated", p.size(c.MutatorAllocated))
	p.line(1, "reclaimed", p.size(c.Reclaimed))

	p.p.Fprintf(p.w, "Regions\n")
	for st := range heap.NumStates {
		p.line(1, heap.State(st).String(), p.p.Sprintf("%d", s.Regions[st]))
	}
	p.line(1, "free in range", p.p.Sprintf("%d", s.FreeRegions))

	p.p.Fprintf(p.w, "Cache\n")
	p.line(1, "bytes", p.size(s.CachedBytes))
	p.line(1, "runs", p.p.Sprintf("%d", s.CachedRuns))

	st := s.Stall
	p.p.Fprintf(p.w, "Stalls (epoch %d)\n", s.Epoch)
	p.line(1, "queued", p.p.Sprintf("%d", st.Queued))
	p.line(1, "stalled", p.p.Sprintf("%d", st.Stalled))
	p.line(1, "satisfied", p.p.Sprintf("%d", st.Satisfied))
	p.line(1, "retried", p.p.Sprintf("%d", st.Retried))
	p.line(1, "failed", p.p.Sprintf("%d", st.Failed))
	p.line(1, "cancelled", p.p.Sprintf("%d", st.Cancelled))

	if s.Set != nil {
		p.p.Fprintf(p.w, "Reclamation set\n")
		p.groupStatsText(1, *s.Set)
	}
	return nil
}

func (p *Printer) groupStatsText(depth int, g selector.GroupStats) {
	p.line(depth, "candidates", p.p.Sprintf("%d", g.Candidates))
	p.line(depth, "selected", p.p.Sprintf("%d", g.Selected))
	p.line(depth, "live", p.size(g.Live))
	p.line(depth, "garbage", p.size(g.Garbage()))
	p.line(depth, "empty", p.size(g.Empty))
	p.line(depth, "relocate", p.size(g.Relocate))
	p.line(depth, "reclaimable", p.size(g.Reclaimable()))
}

func (p *Printer) printSetText(set *selector.ReclamationSet) error {
	total := set.Stats()
	p.p.Fprintf(p.w, "Reclamation set: %d empty, %d selected, %d pinned skipped, %d fresh skipped\n",
		len(set.Empty()), total.Selected, set.Pinned(), set.Fresh())
	if p.opts.ShowRegions && len(set.Empty()) > 0 {
		p.p.Fprintf(p.w, "%sempty: %s\n", p.indent(1), indices(set.Empty()))
	}
	for c := range heap.NumClasses {
		g := set.Group(heap.SizeClass(c))
		if g == nil || g.Stats().Candidates == 0 && g.Stats().Empty == 0 {
			continue
		}
		p.p.Fprintf(p.w, "%s[%s]\n", p.indent(1), g.Class())
		p.groupStatsText(2, g.Stats())
		if p.opts.ShowRegions && len(g.Regions()) > 0 {
			p.line(2, "regions", indices(g.Regions()))
		}
	}
	p.p.Fprintf(p.w, "Total\n")
	p.groupStatsText(1, total)
	return nil
}

func indices(rs []*heap.Region) string {
	var b strings.Builder
	for i, r := range rs {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(humanize.Comma(int64(r.Index())))
	}
	return b.String()
}
