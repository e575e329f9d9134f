package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dealtrack/internal/consolidate"
	"github.com/sells-group/dealtrack/internal/deal"
	"github.com/sells-group/dealtrack/internal/model"
	"github.com/sells-group/dealtrack/internal/progress"
	"github.com/sells-group/dealtrack/internal/risk"
	"github.com/sells-group/dealtrack/internal/schedule"
	"github.com/sells-group/dealtrack/internal/store"
)

// Snapshot is everything fetched about one deal for an evaluation pass.
type Snapshot struct {
	DealID string `json:"deal_id"`
	// Schedule describes the deal's voyage; its DealID is filled in.
	Schedule   schedule.Request `json:"schedule"`
	Candidates []schedule.Entry `json:"candidates,omitempty"`
	// TextFields and TimeFields hold per-field source observations.
	TextFields    map[string][]consolidate.Observation `json:"text_fields,omitempty"`
	TimeFields    map[string][]consolidate.Observation `json:"time_fields,omitempty"`
	Units         []progress.Record                    `json:"units,omitempty"`
	VesselArrived bool                                 `json:"vessel_arrived"`
	ArrivedAt     time.Time                            `json:"arrived_at,omitzero"`
	VesselsAtPort int                                  `json:"vessels_at_port"`
}

// Evaluation is the result of one deal's pass.
type Evaluation struct {
	DealID     string                        `json:"deal_id"`
	Link       schedule.Link                 `json:"link"`
	Fields     map[string]consolidate.Result `json:"fields,omitempty"`
	Progress   progress.ShipmentProgress     `json:"progress"`
	Dwell      risk.DwellRisk                `json:"dwell"`
	Congestion risk.Congestion               `json:"congestion"`
	Alerts     []risk.Alert                  `json:"alerts,omitempty"`
	// RejectedUnits lists units whose milestone records failed validation.
	RejectedUnits []string `json:"rejected_units,omitempty"`
}

// Evaluator runs the per-deal evaluation pass.
type Evaluator struct {
	resolver      *deal.Resolver
	linker        *schedule.Linker
	consolidator  *consolidate.Consolidator
	engine        *risk.Engine
	sink          AlertSink
	maxConcurrent int
	now           func() time.Time
}

// NewEvaluator creates an evaluator. A nil sink discards alerts.
func NewEvaluator(
	st store.Store,
	linker *schedule.Linker,
	consolidator *consolidate.Consolidator,
	engine *risk.Engine,
	sink AlertSink,
	maxConcurrent int,
) *Evaluator {
	if sink == nil {
		sink = DiscardSink{}
	}
	return &Evaluator{
		resolver:      deal.NewResolver(st),
		linker:        linker,
		consolidator:  consolidator,
		engine:        engine,
		sink:          sink,
		maxConcurrent: max(1, maxConcurrent),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithNow pins the evaluation clock.
func (e *Evaluator) WithNow(t time.Time) *Evaluator {
	e.now = func() time.Time { return t }
	return e
}

// Evaluate runs one snapshot. The deal id is re-resolved through merge
// pointers first; an unreachable store leaves it as given.
func (e *Evaluator) Evaluate(ctx context.Context, snap Snapshot) Evaluation {
	now := e.now()
	dealID := snap.DealID
	reference := ""
	if d, err := e.resolver.Canonical(ctx, snap.DealID); err == nil {
		dealID = d.ID
		reference = referenceOf(d)
	} else {
		zap.L().Warn("evaluate: canonical lookup failed",
			zap.String("deal_id", snap.DealID),
			zap.Error(err),
		)
	}

	units, rejected := validUnits(dealID, snap.Units)

	req := snap.Schedule
	req.DealID = dealID
	ev := Evaluation{
		DealID:        dealID,
		Link:          e.linker.Link(req, snap.Candidates),
		Fields:        make(map[string]consolidate.Result, len(snap.TextFields)+len(snap.TimeFields)),
		Progress:      progress.Shipment(units),
		Dwell:         e.engine.Dwell(units, now),
		Congestion:    e.engine.Congestion(snap.VesselsAtPort),
		RejectedUnits: rejected,
	}
	// Fields no source reported are left out rather than shown as empty.
	for name, obs := range snap.TextFields {
		if r := e.consolidator.Text(obs); r.Present() {
			ev.Fields[name] = r
		}
	}
	for name, obs := range snap.TimeFields {
		if r := e.consolidator.Time(obs); r.Present() {
			ev.Fields[name] = r
		}
	}

	ev.Alerts = e.engine.Alerts(risk.DealState{
		DealID:        dealID,
		Reference:     reference,
		VesselArrived: snap.VesselArrived,
		ArrivedAt:     snap.ArrivedAt,
		Units:         units,
	}, now)
	return ev
}

// validUnits normalises each milestone record and drops the ones that do
// not fit their direction's pipeline, so they are reported instead of
// graded against an empty pipeline.
func validUnits(dealID string, in []progress.Record) ([]progress.Record, []string) {
	out := make([]progress.Record, 0, len(in))
	var rejected []string
	for _, r := range in {
		r = r.Normalize()
		if err := r.Validate(); err != nil {
			zap.L().Warn("evaluate: skipping invalid milestone record",
				zap.String("deal_id", dealID),
				zap.String("unit_id", r.UnitID),
				zap.Error(err),
			)
			rejected = append(rejected, r.UnitID)
			continue
		}
		out = append(out, r)
	}
	return out, rejected
}

// EvaluateAll evaluates snapshots concurrently and hands the pass's alerts
// to the sink, at most one per deal and condition.
func (e *Evaluator) EvaluateAll(ctx context.Context, snaps []Snapshot) ([]Evaluation, error) {
	evals := make([]Evaluation, len(snaps))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrent)
	for i, snap := range snaps {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			evals[i] = e.Evaluate(gctx, snap)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return evals, eris.Wrap(err, "pipeline: evaluate")
	}

	alerts := dedupAlerts(evals)
	if len(alerts) > 0 {
		if err := e.sink.Send(ctx, alerts); err != nil {
			return evals, eris.Wrap(err, "pipeline: send alerts")
		}
	}
	zap.L().Info("pipeline: evaluation pass complete",
		zap.Int("deals", len(snaps)),
		zap.Int("alerts", len(alerts)),
	)
	return evals, nil
}

// dedupAlerts collects alerts across evaluations, keeping the first per
// dedup key. Two snapshots of one deal can collapse after a merge.
func dedupAlerts(evals []Evaluation) []risk.Alert {
	var (
		out  []risk.Alert
		seen = make(map[string]bool)
	)
	for _, ev := range evals {
		for _, a := range ev.Alerts {
			if seen[a.DedupKey] {
				continue
			}
			seen[a.DedupKey] = true
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DedupKey < out[j].DedupKey })
	return out
}

// referenceOf picks the identifier used to name a deal in alerts.
func referenceOf(d *model.Deal) string {
	for _, f := range []model.Field{model.FieldBLNumbers, model.FieldAWBNumbers, model.FieldContainerNumbers, model.FieldFileNumber} {
		if vs := d.Values(f); len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}
