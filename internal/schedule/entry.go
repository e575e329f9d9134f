// Package schedule links deals to vessel and flight schedule entries and
// detects when a linked schedule has moved.
package schedule

import "time"

// Mode is the transport mode of a schedule entry.
type Mode string

// Transport modes.
const (
	ModeSea Mode = "sea"
	ModeAir Mode = "air"
)

// Confidence is a source's own label for how reliable an entry is.
type Confidence string

// Confidence labels, best first.
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// rank orders confidence labels; unknown labels rank below low.
func (c Confidence) rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}
	return 0
}

// Entry is one deduplicated, source-tagged schedule observation.
type Entry struct {
	Vessel     string     `json:"vessel"`
	PortCode   string     `json:"port_code"`
	Voyage     string     `json:"voyage,omitempty"`
	ETA        time.Time  `json:"eta,omitzero"`
	ETD        time.Time  `json:"etd,omitzero"`
	Berth      string     `json:"berth,omitempty"`
	Sources    []string   `json:"sources,omitempty"`
	Confidence Confidence `json:"confidence,omitempty"`
	ObservedAt time.Time  `json:"observed_at,omitzero"`
	Mode       Mode       `json:"mode,omitempty"`
}

// MatchType records how a link was made.
type MatchType string

// Match types.
const (
	MatchExact  MatchType = "exact"
	MatchFuzzy  MatchType = "fuzzy"
	MatchVoyage MatchType = "voyage"
	MatchNone   MatchType = "none"
)

// Outcome distinguishes why a link does or does not exist.
type Outcome string

// Link outcomes.
const (
	OutcomeLinked       Outcome = "linked"
	OutcomeNoLink       Outcome = "no_link"
	OutcomeAmbiguous    Outcome = "ambiguous"
	OutcomeInsufficient Outcome = "insufficient"
)

// Link is the result of matching a deal against schedule candidates.
type Link struct {
	Outcome    Outcome    `json:"outcome"`
	MatchType  MatchType  `json:"match_type"`
	Distance   int        `json:"distance"`
	Vessel     string     `json:"vessel,omitempty"`
	Voyage     string     `json:"voyage,omitempty"`
	PortCode   string     `json:"port_code,omitempty"`
	ETA        time.Time  `json:"eta,omitzero"`
	ETD        time.Time  `json:"etd,omitzero"`
	Berth      string     `json:"berth,omitempty"`
	Confidence Confidence `json:"confidence,omitempty"`
	Sources    []string   `json:"sources,omitempty"`

	ScheduleChanged bool      `json:"schedule_changed"`
	PreviousETA     time.Time `json:"previous_eta,omitzero"`
	PreviousETD     time.Time `json:"previous_etd,omitzero"`
}

// Linked reports whether the link points at a schedule entry.
func (l Link) Linked() bool {
	return l.Outcome == OutcomeLinked
}

// Request is what the linker knows about a deal.
type Request struct {
	DealID   string `json:"deal_id"`
	Vessel   string `json:"vessel,omitempty"`
	Voyage   string `json:"voyage,omitempty"`
	PortCode string `json:"port_code"`
	// Previous is the deal's last known link, if any.
	Previous *Link `json:"previous,omitempty"`
}
