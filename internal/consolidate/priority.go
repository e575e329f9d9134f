package consolidate

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Priorities maps a source name to its trust rank. Lower is more
// authoritative. Adding a source is one entry here.
type Priorities map[string]int

// DefaultPriorities returns the built-in source ranking.
func DefaultPriorities() Priorities {
	return Priorities{
		"port_authority":      1,
		"terminal":            2,
		"carrier":             3,
		"customs":             3,
		"forwarder":           4,
		"agent_email":         5,
		"schedule_aggregator": 6,
		"ais":                 7,
		"inferred":            8,
	}
}

// Rank returns the rank of source. Unknown sources rank after the worst
// known one.
func (p Priorities) Rank(source string) int {
	if r, ok := p[normalizeSource(source)]; ok {
		return r
	}
	worst := 0
	for _, r := range p {
		worst = max(worst, r)
	}
	return worst + 1
}

// With returns a copy of p with overrides applied.
func (p Priorities) With(overrides map[string]int) Priorities {
	out := make(Priorities, len(p)+len(overrides))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range overrides {
		out[normalizeSource(k)] = v
	}
	return out
}

// LoadPriorities reads source ranks from a YAML file with a top-level
// "priorities" key and layers them over the defaults.
func LoadPriorities(path string) (Priorities, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "consolidate: read priorities %s", path)
	}

	var wrapper struct {
		Priorities map[string]int `yaml:"priorities"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "consolidate: parse priorities")
	}
	for name, rank := range wrapper.Priorities {
		if rank < 1 {
			return nil, eris.Errorf("consolidate: priority for %q must be positive, got %d", name, rank)
		}
	}
	return DefaultPriorities().With(wrapper.Priorities), nil
}

func normalizeSource(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
