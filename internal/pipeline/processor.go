// Package pipeline wires the identity core together: messages are
// extracted, resolved and registered against the identity graph, and deal
// snapshots are evaluated into links, consolidated fields, progress and
// alerts.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/dealtrack/internal/config"
	"github.com/sells-group/dealtrack/internal/deal"
	"github.com/sells-group/dealtrack/internal/extract"
	"github.com/sells-group/dealtrack/internal/model"
	"github.com/sells-group/dealtrack/internal/store"
)

// Message is one already-normalised email.
type Message struct {
	ID          string    `json:"id"`
	ThreadID    string    `json:"thread_id,omitempty"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	Attachments []string  `json:"attachments,omitempty"`
	ReceivedAt  time.Time `json:"received_at,omitzero"`
}

// Outcome records what processing one message did.
type Outcome struct {
	MessageID   string             `json:"message_id"`
	DealID      string             `json:"deal_id,omitempty"`
	Created     bool               `json:"created"`
	Changed     bool               `json:"changed"`
	Via         *model.Identifier  `json:"via,omitempty"`
	Identifiers []model.Identifier `json:"identifiers"`
	Merges      []deal.MergeResult `json:"merges,omitempty"`
	// Degraded is set when a store failure left the message unlinked; it
	// is safe to process again.
	Degraded bool `json:"degraded"`
	// Skipped explains why nothing was written.
	Skipped string `json:"skipped,omitempty"`
}

// Processor links messages to deals.
type Processor struct {
	resolver  *deal.Resolver
	registrar *deal.Registrar
	merger    *deal.Merger
	cfg       config.PipelineConfig
	limiter   *rate.Limiter
}

// NewProcessor creates a processor over st.
func NewProcessor(st store.Store, cfg config.PipelineConfig) *Processor {
	resolver := deal.NewResolver(st)
	p := &Processor{
		resolver:  resolver,
		registrar: deal.NewRegistrar(st),
		merger:    deal.NewMerger(st, resolver),
		cfg:       cfg,
	}
	if cfg.MaxMessagesPerSec > 0 {
		burst := max(1, int(cfg.MaxMessagesPerSec))
		p.limiter = rate.NewLimiter(rate.Limit(cfg.MaxMessagesPerSec), burst)
	}
	return p
}

// Process extracts identifiers from msg, finds or creates its deal and
// records the identifiers on it. Deals the message ties together are
// merged into the matched deal when auto-merge is on.
func (p *Processor) Process(ctx context.Context, msg Message) Outcome {
	log := zap.L().With(zap.String("message_id", msg.ID), zap.String("thread_id", msg.ThreadID))

	set := extract.Extract(msg.Subject, msg.Body, msg.Attachments...)
	out := Outcome{MessageID: msg.ID, Identifiers: set.Values()}

	res := p.resolver.ResolveSet(ctx, msg.ThreadID, out.Identifiers)
	if res.Degraded {
		log.Warn("pipeline: resolution degraded, message left unlinked")
		out.Degraded = true
		return out
	}

	ids := out.Identifiers
	if msg.ThreadID != "" {
		ids = append([]model.Identifier{{Field: model.FieldThreadIDs, Value: msg.ThreadID}}, ids...)
	}
	var subject string
	if p.cfg.RecordSubjects {
		subject = extract.NormalizeSubject(msg.Subject)
	}

	if !res.Found() {
		if !set.Linkable() {
			out.Skipped = "no identifiers"
			log.Debug("pipeline: nothing to link")
			return out
		}
		id, ok := p.registrar.CreateDeal(ctx, ids, subject)
		if !ok {
			out.Degraded = true
			return out
		}
		out.DealID, out.Created, out.Changed = id, true, true
		log.Info("pipeline: new deal", zap.String("deal_id", id), zap.Int("identifiers", len(ids)))
		return out
	}

	via := res.Via
	out.DealID = res.DealID
	out.Via = &via
	out.Changed = p.registrar.RegisterSet(ctx, res.DealID, ids, subject)

	if p.cfg.AutoMerge {
		for _, cand := range res.Candidates {
			mr := p.merger.MergeDeals(ctx, res.DealID, cand)
			out.Merges = append(out.Merges, mr)
			if mr.Merged {
				out.Changed = true
			}
		}
	}

	log.Debug("pipeline: message linked",
		zap.String("deal_id", out.DealID),
		zap.String("via", string(via.Field)),
		zap.Bool("changed", out.Changed),
		zap.Int("merges", len(out.Merges)),
	)
	return out
}

// ProcessBatch processes msgs concurrently, bounded by the configured
// worker count and message rate. Outcomes are returned in input order. It
// fails only when ctx is cancelled.
func (p *Processor) ProcessBatch(ctx context.Context, msgs []Message) ([]Outcome, error) {
	outcomes := make([]Outcome, len(msgs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.cfg.MaxConcurrentMessages))

	for i, msg := range msgs {
		if p.limiter != nil {
			if err := p.limiter.Wait(gctx); err != nil {
				break
			}
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = p.Process(gctx, msg)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, eris.Wrap(err, "pipeline: process batch")
	}
	if err := ctx.Err(); err != nil {
		return outcomes, eris.Wrap(err, "pipeline: process batch")
	}

	var created, degraded int
	for _, o := range outcomes {
		if o.Created {
			created++
		}
		if o.Degraded {
			degraded++
		}
	}
	zap.L().Info("pipeline: batch processed",
		zap.Int("messages", len(msgs)),
		zap.Int("created", created),
		zap.Int("degraded", degraded),
	)
	return outcomes, nil
}
