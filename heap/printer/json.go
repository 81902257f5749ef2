package printer

import (
	"encoding/json"
	"fmt"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/heap/selector"
)

// jsonStats is alloc.Stats with region counts keyed by state name.
type jsonStats struct {
	alloc.Stats
	Regions   map[string]int `json:"regions"`
	Available uint64         `json:"available"`
}

// jsonGroup is one size class of a reclamation set.
type jsonGroup struct {
	Class string `json:"class"`
	selector.GroupStats
	Regions []int `json:"regions,omitempty"`
}

// jsonSet represents a reclamation set in JSON format.
type jsonSet struct {
	Empty       []int               `json:"empty"`
	Pinned      int                 `json:"pinned_skipped"`
	Fresh       int                 `json:"fresh_skipped"`
	Groups      []jsonGroup         `json:"groups"`
	Total       selector.GroupStats `json:"total"`
	Reclaimable uint64              `json:"reclaimable"`
}

func (p *Printer) writeJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(p.w, "%s\n", data)
	return err
}

func (p *Printer) printStatsJSON(s alloc.Stats) error {
	out := jsonStats{
		Stats:     s,
		Regions:   make(map[string]int, heap.NumStates),
		Available: s.Capacity.Available(),
	}
	for st := range heap.NumStates {
		out.Regions[heap.State(st).String()] = s.Regions[st]
	}
	return p.writeJSON(out)
}

func (p *Printer) printSetJSON(set *selector.ReclamationSet) error {
	out := jsonSet{
		Empty:       indexList(set.Empty()),
		Pinned:      set.Pinned(),
		Fresh:       set.Fresh(),
		Total:       set.Stats(),
		Reclaimable: set.Stats().Reclaimable(),
	}
	for c := range heap.NumClasses {
		g := set.Group(heap.SizeClass(c))
		if g == nil {
			continue
		}
		out.Groups = append(out.Groups, jsonGroup{
			Class:      g.Class().String(),
			GroupStats: g.Stats(),
			Regions:    indexList(g.Regions()),
		})
	}
	return p.writeJSON(out)
}

func indexList(rs []*heap.Region) []int {
	out := make([]int, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Index())
	}
	return out
}
