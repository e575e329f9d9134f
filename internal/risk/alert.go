package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/dealtrack/internal/progress"
)

// Condition is an alert type. The set is closed.
type Condition string

// Alert conditions.
const (
	ConditionDOMissing   Condition = "do_missing"
	ConditionCustomsExam Condition = "customs_exam"
	ConditionDwell       Condition = "dwell"
)

// Severity is how urgently an alert needs attention.
type Severity string

// Severities.
const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one condition raised for one deal in one evaluation pass.
type Alert struct {
	DealID    string         `json:"deal_id"`
	Condition Condition      `json:"condition"`
	Severity  Severity       `json:"severity"`
	Subject   string         `json:"subject"`
	Body      string         `json:"body"`
	DedupKey  string         `json:"dedup_key"`
	Details   map[string]any `json:"details,omitempty"`
}

// DedupKey identifies an alert across a pass.
func DedupKey(dealID string, c Condition) string {
	return dealID + ":" + string(c)
}

// DealState is what the engine needs to know about a deal.
type DealState struct {
	DealID string `json:"deal_id"`
	// Reference names the deal in alert text, e.g. a bill of lading.
	Reference string `json:"reference,omitempty"`
	// VesselArrived is set once the carrying vessel is confirmed in port.
	VesselArrived bool              `json:"vessel_arrived"`
	ArrivedAt     time.Time         `json:"arrived_at,omitzero"`
	Units         []progress.Record `json:"units"`
}

// Alerts evaluates every condition for s at now and returns at most one
// alert per condition.
func (e *Engine) Alerts(s DealState, now time.Time) []Alert {
	var out []Alert
	seen := make(map[string]bool)
	add := func(a *Alert) {
		if a == nil || seen[a.DedupKey] {
			return
		}
		seen[a.DedupKey] = true
		out = append(out, *a)
	}

	add(e.doMissing(s, now))
	add(e.customsExam(s))
	add(e.dwellAlert(s, now))
	return out
}

func (e *Engine) doMissing(s DealState, now time.Time) *Alert {
	if !s.VesselArrived {
		return nil
	}
	if !s.ArrivedAt.IsZero() && now.Sub(s.ArrivedAt) < e.th.DOGrace {
		return nil
	}

	var missing []string
	for _, r := range s.Units {
		if r.Direction != progress.Import {
			continue
		}
		if !r.Has(progress.DeliveryOrder) && !r.Has(progress.CargoExited) {
			missing = append(missing, r.UnitID)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &Alert{
		DealID:    s.DealID,
		Condition: ConditionDOMissing,
		Severity:  SeverityCritical,
		Subject:   fmt.Sprintf("Delivery order missing: %s", s.label()),
		Body: fmt.Sprintf("Vessel has arrived but %d of %d units have no delivery order: %s.",
			len(missing), len(s.Units), strings.Join(missing, ", ")),
		DedupKey: DedupKey(s.DealID, ConditionDOMissing),
		Details:  map[string]any{"units": missing},
	}
}

func (e *Engine) customsExam(s DealState) *Alert {
	var held []string
	for _, r := range s.Units {
		if r.Has(progress.CustomsCheck) && !r.Has(progress.CustomsRelease) {
			held = append(held, r.UnitID)
		}
	}
	if len(held) == 0 {
		return nil
	}
	return &Alert{
		DealID:    s.DealID,
		Condition: ConditionCustomsExam,
		Severity:  SeverityWarning,
		Subject:   fmt.Sprintf("Customs examination open: %s", s.label()),
		Body: fmt.Sprintf("%d %s under customs examination without release: %s.",
			len(held), plural(len(held), "unit", "units"), strings.Join(held, ", ")),
		DedupKey: DedupKey(s.DealID, ConditionCustomsExam),
		Details:  map[string]any{"units": held},
	}
}

func (e *Engine) dwellAlert(s DealState, now time.Time) *Alert {
	dr := e.Dwell(s.Units, now)
	var sev Severity
	switch dr.Level {
	case LevelCritical:
		sev = SeverityCritical
	case LevelWarning:
		sev = SeverityWarning
	default:
		return nil
	}
	return &Alert{
		DealID:    s.DealID,
		Condition: ConditionDwell,
		Severity:  sev,
		Subject:   fmt.Sprintf("Dwell time %s: %s", dr.Level, s.label()),
		Body: fmt.Sprintf("Unit %s has waited %s since %s; %d %s at risk.",
			dr.Worst.UnitID, dwellText(dr.Worst.Elapsed), dr.Worst.Since,
			dr.AtRisk, plural(dr.AtRisk, "unit", "units")),
		DedupKey: DedupKey(s.DealID, ConditionDwell),
		Details: map[string]any{
			"level":         string(dr.Level),
			"worst_unit":    dr.Worst.UnitID,
			"elapsed_hours": dr.Worst.ElapsedHours,
			"at_risk":       dr.AtRisk,
		},
	}
}

func (s DealState) label() string {
	if s.Reference != "" {
		return s.Reference
	}
	return s.DealID
}

func dwellText(d time.Duration) string {
	if d >= day {
		return fmt.Sprintf("%.1f days", d.Hours()/24)
	}
	return fmt.Sprintf("%.0f hours", d.Hours())
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
