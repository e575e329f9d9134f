// Package risk grades dwell time and port congestion and raises the fixed
// set of shipment alerts.
package risk

import (
	"time"

	"github.com/sells-group/dealtrack/internal/config"
	"github.com/sells-group/dealtrack/internal/progress"
)

// Level is a risk grade.
type Level string

// Risk levels, lowest first.
const (
	LevelNone     Level = "none"
	LevelNotice   Level = "notice"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Rank orders levels; higher is worse.
func (l Level) Rank() int {
	switch l {
	case LevelNotice:
		return 1
	case LevelWarning:
		return 2
	case LevelCritical:
		return 3
	}
	return 0
}

// Congestion is a port's load grade.
type Congestion string

// Congestion grades.
const (
	CongestionNormal    Congestion = "normal"
	CongestionBusy      Congestion = "busy"
	CongestionCongested Congestion = "congested"
)

// Thresholds configures the engine.
type Thresholds struct {
	DwellNotice   time.Duration
	DwellWarning  time.Duration
	DwellCritical time.Duration

	AirNotice   time.Duration
	AirWarning  time.Duration
	AirCritical time.Duration

	// CongestionBusy is the vessel count at which a port is busy; above
	// CongestionCongested it is congested.
	CongestionBusy      int
	CongestionCongested int

	// DOGrace is how long after arrival a missing delivery order is
	// tolerated.
	DOGrace time.Duration
}

const day = 24 * time.Hour

// DefaultThresholds returns the stock thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DwellNotice:         2 * day,
		DwellWarning:        3 * day,
		DwellCritical:       4 * day,
		AirNotice:           24 * time.Hour,
		AirWarning:          36 * time.Hour,
		AirCritical:         48 * time.Hour,
		CongestionBusy:      10,
		CongestionCongested: 20,
	}
}

// ThresholdsFrom converts the risk section of the application config.
func ThresholdsFrom(c config.RiskConfig) Thresholds {
	hours := func(h float64) time.Duration { return time.Duration(h * float64(time.Hour)) }
	return Thresholds{
		DwellNotice:         hours(c.DwellNoticeDays * 24),
		DwellWarning:        hours(c.DwellWarningDays * 24),
		DwellCritical:       hours(c.DwellCriticalDays * 24),
		AirNotice:           hours(c.AirNoticeHours),
		AirWarning:          hours(c.AirWarningHours),
		AirCritical:         hours(c.AirCriticalHours),
		CongestionBusy:      c.CongestionBusy,
		CongestionCongested: c.CongestionCongested,
		DOGrace:             hours(c.DOGraceHours),
	}
}

// Engine grades risk against fixed thresholds. It holds no state.
type Engine struct {
	th Thresholds
}

// NewEngine creates an engine.
func NewEngine(th Thresholds) *Engine {
	return &Engine{th: th}
}

// UnitDwell is one unit's dwell grade.
type UnitDwell struct {
	UnitID string `json:"unit_id"`
	Level  Level  `json:"level"`
	// Since is the milestone that started the clock.
	Since        progress.Milestone `json:"since,omitempty"`
	Elapsed      time.Duration      `json:"-"`
	ElapsedHours float64            `json:"elapsed_hours"`
}

// DwellRisk is the dwell grade of a deal across its units.
type DwellRisk struct {
	Level  Level       `json:"level"`
	AtRisk int         `json:"at_risk"`
	Worst  UnitDwell   `json:"worst"`
	Units  []UnitDwell `json:"units"`
}

// clock returns the milestone that starts a unit's dwell clock and the
// milestones that stop it.
func clock(r progress.Record) (progress.Milestone, []progress.Milestone) {
	switch {
	case r.Direction == progress.Export:
		return progress.CargoEntry, []progress.Milestone{progress.CargoLoaded, progress.VesselSailed}
	case r.Mode == progress.Air:
		return progress.CargoUnloaded, []progress.Milestone{progress.CustomsRelease, progress.PortRelease, progress.CargoExited}
	default:
		return progress.CargoUnloaded, []progress.Milestone{progress.CargoExited}
	}
}

// Unit grades one unit's dwell at now. A unit whose clock has stopped, or
// never started, is LevelNone.
func (e *Engine) Unit(r progress.Record, now time.Time) UnitDwell {
	u := UnitDwell{UnitID: r.UnitID, Level: LevelNone}
	start, stops := clock(r)
	if !r.Has(start) {
		return u
	}
	for _, m := range stops {
		if r.Has(m) {
			return u
		}
	}

	u.Since = start
	u.Elapsed = max(now.Sub(r.At(start)), 0)
	u.ElapsedHours = u.Elapsed.Hours()
	notice, warning, critical := e.th.DwellNotice, e.th.DwellWarning, e.th.DwellCritical
	if r.Mode == progress.Air {
		notice, warning, critical = e.th.AirNotice, e.th.AirWarning, e.th.AirCritical
	}
	switch {
	case u.Elapsed >= critical:
		u.Level = LevelCritical
	case u.Elapsed >= warning:
		u.Level = LevelWarning
	case u.Elapsed >= notice:
		u.Level = LevelNotice
	}
	return u
}

// Dwell grades every unit; the worst unit sets the deal's level.
func (e *Engine) Dwell(records []progress.Record, now time.Time) DwellRisk {
	dr := DwellRisk{Level: LevelNone, Units: make([]UnitDwell, 0, len(records))}
	for _, r := range records {
		u := e.Unit(r, now)
		dr.Units = append(dr.Units, u)
		if u.Level == LevelNone {
			continue
		}
		dr.AtRisk++
		if u.Level.Rank() > dr.Level.Rank() ||
			(u.Level == dr.Level && u.Elapsed > dr.Worst.Elapsed) {
			dr.Level = u.Level
			dr.Worst = u
		}
	}
	return dr
}

// Congestion grades a port by the number of vessels at it.
func (e *Engine) Congestion(vessels int) Congestion {
	switch {
	case vessels > e.th.CongestionCongested:
		return CongestionCongested
	case vessels >= e.th.CongestionBusy:
		return CongestionBusy
	default:
		return CongestionNormal
	}
}
