package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"actgraph/internal/domain"
	"actgraph/internal/events"
	"actgraph/internal/graph"
)

type AuditReport struct {
	Violations []domain.Violation `json:"violations"`
	Stats      graph.Stats        `json:"stats"`
	Duration   time.Duration      `json:"duration"`
	CheckedAt  time.Time          `json:"checked_at"`
}

// Blocking counts violations that a mutation would have been rejected for.
func (r AuditReport) Blocking() int {
	n := 0
	for _, v := range r.Violations {
		if v.Blocking() {
			n++
		}
	}
	return n
}

// Audit runs the batch validator over a consistent copy of the graph.
// Mutations keep running while it works.
func (e *Engine) Audit(ctx context.Context) (AuditReport, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "engine.audit")
	defer span.End()

	snap := e.store.Clone()
	res, err := e.validator.Batch(ctx, snap)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AuditReport{}, fmt.Errorf("audit: %w", err)
	}
	for _, v := range res.Violations {
		e.metrics.IncrementViolation(string(v.Kind), "batch")
	}
	e.metrics.ObserveAudit(start)
	report := AuditReport{
		Violations: res.Violations,
		Stats:      snap.Stats(),
		Duration:   time.Since(start),
		CheckedAt:  e.clock(),
	}
	span.SetAttributes(
		attribute.Int("audit.violations", len(report.Violations)),
		attribute.Int("audit.acts", report.Stats.Acts),
	)
	span.SetStatus(codes.Ok, "")
	e.logger.InfoContext(ctx, "audit finished",
		"violations", len(report.Violations),
		"blocking", report.Blocking(),
		"acts", report.Stats.Acts,
		"duration", report.Duration,
	)
	return report, nil
}

// Export returns a consistent snapshot of the graph.
func (e *Engine) Export(ctx context.Context) graph.Snapshot {
	return e.store.Export()
}

// Import replaces the graph with snap. Rules are not enforced on the way in;
// run Audit afterwards to see what the snapshot breaks.
func (e *Engine) Import(ctx context.Context, snap graph.Snapshot) error {
	e.gate.Lock()
	defer e.gate.Unlock()
	if e.journal != nil {
		err := e.journal.Record(ctx, events.Event{
			Type:       events.GraphImported,
			EntityKind: "graph",
			ActorID:    actorFrom(ctx),
			Payload: events.EventPayload{
				"acts":           len(snap.Acts),
				"relationships":  len(snap.Relationships),
				"participations": len(snap.Participations),
			},
		})
		if err != nil {
			return fmt.Errorf("import: journal: %w", err)
		}
	}
	e.store.Load(snap)
	e.logger.InfoContext(ctx, "graph imported", "acts", len(snap.Acts), "relationships", len(snap.Relationships))
	return nil
}
