// Package consolidate reconciles one field reported by several sources
// into a best value plus a summary of how far the sources agree.
package consolidate

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/dealtrack/internal/config"
)

// DefaultTolerance is how far apart two times may be and still agree.
const DefaultTolerance = 6 * time.Hour

// timeLayouts are the formats accepted for time-valued fields.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04",
	"02.01.2006 15:04",
	"2006-01-02",
	"02/01/2006",
}

// Observation is one source's report of a field value.
type Observation struct {
	Value      string    `json:"value"`
	Source     string    `json:"source"`
	ObservedAt time.Time `json:"observed_at,omitzero"`
}

// Result is the consolidated view of one field.
type Result struct {
	BestValue    string        `json:"best_value"`
	BestSource   string        `json:"best_source"`
	BestTime     time.Time     `json:"best_time,omitzero"`
	SourceCount  int           `json:"source_count"`
	SourcesAgree bool          `json:"sources_agree"`
	Consensus    string        `json:"consensus"`
	Observations []Observation `json:"observations"`
}

// Present reports whether any source supplied a value.
func (r Result) Present() bool {
	return r.SourceCount > 0
}

// Consolidator ranks sources and measures agreement. It is safe for
// concurrent use.
type Consolidator struct {
	priorities Priorities
	tolerance  time.Duration
}

// New creates a consolidator. A nil priorities table uses the defaults.
func New(priorities Priorities, tolerance time.Duration) *Consolidator {
	if priorities == nil {
		priorities = DefaultPriorities()
	}
	return &Consolidator{priorities: priorities, tolerance: tolerance}
}

// FromConfig builds a consolidator from the application config: defaults,
// then the priorities file, then inline overrides.
func FromConfig(cfg config.ConsolidateConfig) (*Consolidator, error) {
	p := DefaultPriorities()
	if cfg.PrioritiesFile != "" {
		loaded, err := LoadPriorities(cfg.PrioritiesFile)
		if err != nil {
			return nil, err
		}
		p = loaded
	}
	p = p.With(cfg.Priorities)
	return New(p, time.Duration(cfg.ToleranceHours*float64(time.Hour))), nil
}

// Text consolidates a non-time field. Sources agree when every value is
// equal.
func (c *Consolidator) Text(obs []Observation) Result {
	present := make([]Observation, 0, len(obs))
	for _, o := range obs {
		if v := strings.Join(strings.Fields(o.Value), " "); v != "" {
			o.Value = v
			present = append(present, o)
		}
	}
	if len(present) == 0 {
		return Result{Consensus: "no data"}
	}

	best := present[c.best(present)]
	res := Result{
		BestValue:    best.Value,
		BestSource:   best.Source,
		SourceCount:  len(present),
		SourcesAgree: true,
		Observations: present,
	}
	for _, o := range present {
		if o.Value != best.Value {
			res.SourcesAgree = false
			break
		}
	}

	mode, count := c.mode(present, func(a, b int) bool { return present[a].Value == present[b].Value })
	res.Consensus = consensus(res, present[mode].Value, count)
	return res
}

// Time consolidates a time-valued field. Values that do not parse are
// treated as absent. Sources agree when every value is within the
// tolerance of the best one.
func (c *Consolidator) Time(obs []Observation) Result {
	present := make([]Observation, 0, len(obs))
	times := make([]time.Time, 0, len(obs))
	for _, o := range obs {
		t, ok := ParseTime(o.Value)
		if !ok {
			continue
		}
		o.Value = t.Format(time.RFC3339)
		present = append(present, o)
		times = append(times, t)
	}
	if len(present) == 0 {
		return Result{Consensus: "no data"}
	}

	bi := c.best(present)
	res := Result{
		BestValue:    present[bi].Value,
		BestSource:   present[bi].Source,
		BestTime:     times[bi],
		SourceCount:  len(present),
		SourcesAgree: true,
		Observations: present,
	}
	for _, t := range times {
		if !within(t, times[bi], c.tolerance) {
			res.SourcesAgree = false
			break
		}
	}

	mode, count := c.mode(present, func(a, b int) bool { return within(times[a], times[b], c.tolerance) })
	res.Consensus = consensus(res, times[mode].UTC().Format("2006-01-02 15:04"), count)
	return res
}

// best returns the index of the most authoritative observation, breaking
// rank ties by the most recent observation.
func (c *Consolidator) best(obs []Observation) int {
	bi := 0
	for i := 1; i < len(obs); i++ {
		ri, rb := c.priorities.Rank(obs[i].Source), c.priorities.Rank(obs[bi].Source)
		if ri < rb || (ri == rb && obs[i].ObservedAt.After(obs[bi].ObservedAt)) {
			bi = i
		}
	}
	return bi
}

// mode returns the index of the value most observations agree with and how
// many do. Ties go to the more authoritative source.
func (c *Consolidator) mode(obs []Observation, same func(a, b int) bool) (int, int) {
	bestIdx, bestCount := 0, 0
	for i := range obs {
		n := 0
		for j := range obs {
			if same(i, j) {
				n++
			}
		}
		switch {
		case n > bestCount:
			bestIdx, bestCount = i, n
		case n == bestCount && c.priorities.Rank(obs[i].Source) < c.priorities.Rank(obs[bestIdx].Source):
			bestIdx = i
		}
	}
	return bestIdx, bestCount
}

func consensus(res Result, modal string, count int) string {
	switch {
	case res.SourceCount == 1:
		return "single source: " + res.BestSource
	case res.SourcesAgree:
		return fmt.Sprintf("all %d sources agree", res.SourceCount)
	default:
		return fmt.Sprintf("%d of %d sources say %s", count, res.SourceCount, modal)
	}
}

// ParseTime parses a time value in any accepted layout. Values without a
// zone are taken as UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func within(a, b time.Time, tolerance time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}
