package schedule

import (
	"cmp"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/dealtrack/internal/config"
)

// Config tunes the linker.
type Config struct {
	// MaxEditDistance is the largest vessel-name edit distance accepted as
	// a fuzzy match.
	MaxEditDistance int
	// ChangeThreshold is the smallest ETA/ETD move reported as a schedule
	// change.
	ChangeThreshold time.Duration
}

// DefaultConfig returns the stock linker settings.
func DefaultConfig() Config {
	return Config{MaxEditDistance: 2, ChangeThreshold: 6 * time.Hour}
}

// ConfigFrom converts the linker section of the application config.
func ConfigFrom(c config.LinkerConfig) Config {
	return Config{
		MaxEditDistance: c.MaxEditDistance,
		ChangeThreshold: time.Duration(c.ChangeThresholdHours * float64(time.Hour)),
	}
}

// Linker matches deals to schedule entries. It holds no state and is safe
// for concurrent use.
type Linker struct {
	cfg Config
}

// NewLinker creates a linker.
func NewLinker(cfg Config) *Linker {
	return &Linker{cfg: cfg}
}

type candidate struct {
	entry    Entry
	distance int
}

// Link matches req against candidates. A deal needs a port code and a
// vessel name or voyage number to be linked. Exact vessel matches beat
// fuzzy ones; voyage numbers are only used when the deal has no vessel.
func (l *Linker) Link(req Request, candidates []Entry) Link {
	port := normalizeCode(req.PortCode)
	vessel := NormalizeVessel(req.Vessel)
	voyage := normalizeCode(req.Voyage)
	if port == "" || (vessel == "" && voyage == "") {
		return Link{Outcome: OutcomeInsufficient, MatchType: MatchNone}
	}

	var atPort []Entry
	for _, e := range candidates {
		if normalizeCode(e.PortCode) == port {
			atPort = append(atPort, e)
		}
	}

	var (
		matches []candidate
		kind    MatchType
	)
	if vessel != "" {
		for _, e := range atPort {
			if NormalizeVessel(e.Vessel) == vessel {
				matches = append(matches, candidate{entry: e})
			}
		}
		kind = MatchExact
		if len(matches) == 0 {
			matches = l.fuzzy(vessel, atPort)
			kind = MatchFuzzy
		}
	} else {
		for _, e := range atPort {
			if v := normalizeCode(e.Voyage); v != "" && v == voyage {
				matches = append(matches, candidate{entry: e})
			}
		}
		kind = MatchVoyage
	}

	if len(matches) == 0 {
		return Link{Outcome: OutcomeNoLink, MatchType: MatchNone}
	}

	best, ok := pick(matches)
	if !ok {
		zap.L().Debug("schedule: ambiguous match",
			zap.String("deal_id", req.DealID),
			zap.String("port", port),
			zap.Int("candidates", len(matches)),
		)
		return Link{Outcome: OutcomeAmbiguous, MatchType: MatchNone}
	}

	link := Link{
		Outcome:    OutcomeLinked,
		MatchType:  kind,
		Distance:   best.distance,
		Vessel:     best.entry.Vessel,
		Voyage:     best.entry.Voyage,
		PortCode:   best.entry.PortCode,
		ETA:        best.entry.ETA,
		ETD:        best.entry.ETD,
		Berth:      best.entry.Berth,
		Confidence: best.entry.Confidence,
		Sources:    slices.Clone(best.entry.Sources),
	}
	l.detectChange(&link, req.Previous)
	return link
}

// fuzzy returns the candidates at the smallest edit distance within the
// configured maximum.
func (l *Linker) fuzzy(vessel string, entries []Entry) []candidate {
	var out []candidate
	bestDist := l.cfg.MaxEditDistance + 1
	for _, e := range entries {
		d := editDistance(vessel, NormalizeVessel(e.Vessel), l.cfg.MaxEditDistance)
		switch {
		case d > l.cfg.MaxEditDistance || d > bestDist:
		case d < bestDist:
			bestDist = d
			out = append(out[:0], candidate{entry: e, distance: d})
		default:
			out = append(out, candidate{entry: e, distance: d})
		}
	}
	return out
}

// pick orders candidates by distance, confidence label and recency. It
// returns false when the leaders tie on all three but disagree on times.
func pick(cs []candidate) (candidate, bool) {
	slices.SortStableFunc(cs, compareCandidates)
	best := cs[0]
	for _, c := range cs[1:] {
		if compareCandidates(best, c) != 0 {
			break
		}
		if !c.entry.ETA.Equal(best.entry.ETA) || !c.entry.ETD.Equal(best.entry.ETD) {
			return candidate{}, false
		}
	}
	return best, true
}

func compareCandidates(a, b candidate) int {
	return cmp.Or(
		cmp.Compare(a.distance, b.distance),
		cmp.Compare(b.entry.Confidence.rank(), a.entry.Confidence.rank()),
		b.entry.ObservedAt.Compare(a.entry.ObservedAt),
	)
}

// detectChange compares link against the deal's previous link. Drift
// below the threshold is not a change.
func (l *Linker) detectChange(link *Link, prev *Link) {
	if prev == nil || !prev.Linked() {
		return
	}
	if moved(prev.ETA, link.ETA, l.cfg.ChangeThreshold) {
		link.ScheduleChanged = true
		link.PreviousETA = prev.ETA
	}
	if moved(prev.ETD, link.ETD, l.cfg.ChangeThreshold) {
		link.ScheduleChanged = true
		link.PreviousETD = prev.ETD
	}
}

func moved(prev, cur time.Time, threshold time.Duration) bool {
	if prev.IsZero() || cur.IsZero() {
		return false
	}
	d := cur.Sub(prev)
	if d < 0 {
		d = -d
	}
	return d > threshold
}
