package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/sitebook/autodb/internal/domain"
	"github.com/sitebook/autodb/internal/logging"
)

// documents is the full persisted image of the controller.
type documents struct {
	State     domain.SystemState
	Decisions []domain.AIDecision
	Metrics   []domain.MetricsSnapshot
	Patterns  []domain.SchemaPattern
}

// interruptedImpact marks decisions that were still pending when the
// process stopped.
const interruptedImpact = "outcome unknown: process stopped before the fix reported"

// Load reads the four persisted documents and merges them over the
// defaults. Missing documents start empty; invalid ones fail.
func (c *Controller) Load(ctx context.Context) error {
	var d documents
	found := 0

	get := func(key string, v any) error {
		err := c.store.GetDocument(ctx, key, v)
		switch {
		case err == nil:
			found++
			return nil
		case errors.Is(err, domain.ErrDocumentNotFound):
			return nil
		default:
			return fmt.Errorf("load %s: %w", key, err)
		}
	}

	d.State = domain.DefaultSystemState()
	if err := get(domain.DocState, &d.State); err != nil {
		return err
	}
	if err := get(domain.DocDecisions, &d.Decisions); err != nil {
		return err
	}
	if err := get(domain.DocMetrics, &d.Metrics); err != nil {
		return err
	}
	if err := get(domain.DocPatterns, &d.Patterns); err != nil {
		return err
	}
	if err := validate(d); err != nil {
		return fmt.Errorf("load: %w: %v", domain.ErrInvalidDocument, err)
	}

	interrupted := 0
	for i := range d.Decisions {
		if d.Decisions[i].Outcome == domain.OutcomePending {
			d.Decisions[i].Outcome = domain.OutcomePartial
			d.Decisions[i].Impact = interruptedImpact
			interrupted++
		}
	}
	if interrupted > 0 {
		logging.Warn("[controller] %d decision(s) were pending at last shutdown, marked partial", interrupted)
	}

	c.owner.restore(d)
	c.anomalies.Reset()
	for _, s := range d.Metrics {
		c.anomalies.Analyze(s)
	}
	logging.Info("[controller] loaded %d document(s): %d decisions, %d snapshots, %d patterns",
		found, len(d.Decisions), len(d.Metrics), len(d.Patterns))
	return nil
}

func validate(d documents) error {
	if err := d.State.Validate(); err != nil {
		return err
	}
	for _, x := range d.Decisions {
		if err := x.Validate(); err != nil {
			return err
		}
	}
	for _, x := range d.Metrics {
		if err := x.Validate(); err != nil {
			return err
		}
	}
	for _, x := range d.Patterns {
		if err := x.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// flush writes all four documents. Concurrent flushes are serialized so a
// slower, older snapshot never overwrites a newer one.
func (c *Controller) flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	d := c.owner.documents()
	var errs []error
	for _, doc := range []struct {
		key string
		v   any
	}{
		{domain.DocState, d.State},
		{domain.DocDecisions, d.Decisions},
		{domain.DocMetrics, d.Metrics},
		{domain.DocPatterns, d.Patterns},
	} {
		if err := c.store.PutDocument(ctx, doc.key, doc.v); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", doc.key, err))
		}
	}
	return errors.Join(errs...)
}
