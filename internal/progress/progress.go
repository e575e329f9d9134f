// Package progress derives where a shipment stands in its milestone
// pipeline.
//
// The current step is the last milestone in canonical order that has a
// timestamp, regardless of when the timestamps arrived. Feeds often report
// milestones out of order and derived state must never move backwards.
package progress

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Direction is import or export.
type Direction string

// Directions.
const (
	Import Direction = "import"
	Export Direction = "export"
)

// Mode is the transport mode of a unit.
type Mode string

// Modes.
const (
	Sea Mode = "sea"
	Air Mode = "air"
)

// Milestone is a named checkpoint.
type Milestone string

// Milestones.
const (
	Manifest          Milestone = "manifest"
	CargoUnloaded     Milestone = "cargo_unloaded"
	DeliveryOrder     Milestone = "delivery_order"
	CustomsCheck      Milestone = "customs_check"
	CustomsRelease    Milestone = "customs_release"
	PortRelease       Milestone = "port_release"
	EscortCertificate Milestone = "escort_certificate"
	ExitRequested     Milestone = "exit_requested"
	CargoExited       Milestone = "cargo_exited"

	ExportDeclaration Milestone = "export_declaration"
	CargoEntry        Milestone = "cargo_entry"
	CargoLoaded       Milestone = "cargo_loaded"
	VesselSailed      Milestone = "vessel_sailed"
)

var pipelines = map[Direction][]Milestone{
	Import: {
		Manifest, CargoUnloaded, DeliveryOrder, CustomsCheck, CustomsRelease,
		PortRelease, EscortCertificate, ExitRequested, CargoExited,
	},
	Export: {
		ExportDeclaration, EscortCertificate, CargoEntry, CustomsCheck,
		CustomsRelease, PortRelease, CargoLoaded, VesselSailed,
	},
}

// Pipeline returns the canonical milestone order for d, or nil for an
// unknown direction.
func Pipeline(d Direction) []Milestone {
	return pipelines[d]
}

// Terminal returns the last milestone of d's pipeline.
func Terminal(d Direction) Milestone {
	p := pipelines[d]
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Record holds milestone timestamps for one unit (a container, or an air
// shipment).
type Record struct {
	UnitID     string                  `json:"unit_id"`
	Direction  Direction               `json:"direction"`
	Mode       Mode                    `json:"mode,omitempty"`
	Milestones map[Milestone]time.Time `json:"milestones"`
}

// Has reports whether m has a timestamp.
func (r Record) Has(m Milestone) bool {
	t, ok := r.Milestones[m]
	return ok && !t.IsZero()
}

// At returns the timestamp of m, or the zero time.
func (r Record) At(m Milestone) time.Time {
	return r.Milestones[m]
}

// Normalize returns r with direction, mode and milestone names trimmed and
// lower-cased, as feeds do not agree on case.
func (r Record) Normalize() Record {
	r.Direction = Direction(strings.ToLower(strings.TrimSpace(string(r.Direction))))
	r.Mode = Mode(strings.ToLower(strings.TrimSpace(string(r.Mode))))
	if r.Milestones != nil {
		ms := make(map[Milestone]time.Time, len(r.Milestones))
		for m, t := range r.Milestones {
			ms[Milestone(strings.ToLower(strings.TrimSpace(string(m))))] = t
		}
		r.Milestones = ms
	}
	return r
}

// Validate checks the direction and that every milestone belongs to it.
func (r Record) Validate() error {
	p, ok := pipelines[r.Direction]
	if !ok {
		return eris.Errorf("progress: unit %s has unknown direction %q", r.UnitID, r.Direction)
	}
	for m := range r.Milestones {
		if !contains(p, m) {
			return eris.Errorf("progress: unit %s: %q is not an %s milestone", r.UnitID, m, r.Direction)
		}
	}
	return nil
}

// Step is a unit's position in its pipeline.
type Step struct {
	UnitID    string    `json:"unit_id"`
	Milestone Milestone `json:"milestone,omitempty"`
	// Index is the 1-based position of Milestone; 0 before the first step.
	Index    int  `json:"index"`
	Total    int  `json:"total"`
	Complete bool `json:"complete"`
}

// Current returns the last milestone in canonical order that has a
// timestamp.
func Current(r Record) Step {
	p := pipelines[r.Direction]
	step := Step{UnitID: r.UnitID, Total: len(p)}
	for i := len(p) - 1; i >= 0; i-- {
		if r.Has(p[i]) {
			step.Milestone = p[i]
			step.Index = i + 1
			break
		}
	}
	step.Complete = step.Total > 0 && step.Index == step.Total
	return step
}

// ShipmentProgress summarises a multi-unit shipment.
type ShipmentProgress struct {
	Units     []Step  `json:"units"`
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}

// Shipment reports per-unit steps and how many units reached their
// terminal milestone.
func Shipment(records []Record) ShipmentProgress {
	sp := ShipmentProgress{Units: make([]Step, 0, len(records)), Total: len(records)}
	for _, r := range records {
		s := Current(r)
		if s.Complete {
			sp.Completed++
		}
		sp.Units = append(sp.Units, s)
	}
	if sp.Total > 0 {
		sp.Percent = 100 * float64(sp.Completed) / float64(sp.Total)
	}
	return sp
}

func contains(p []Milestone, m Milestone) bool {
	for _, x := range p {
		if x == m {
			return true
		}
	}
	return false
}
