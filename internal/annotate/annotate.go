// internal/annotate/annotate.go
//
// Column annotation.
//
// Context
// -------
// A column is described by an ordered chain of stages.  Each stage offers
// the same Annotator capability; the Chain asks them in turn and keeps the
// first non-empty answer.  The production chain is
//
//	NewChain(log, modelAnnotator, ruleAnnotator)
//
// or just the rule stage when AI is disabled.  Stage failures are logged
// and counted but never leave the chain, so annotation can not fail a
// scan.  The worst case is an empty Description with Source "none".
//
// Notes
// -----
//   - Batch-capable stages receive every still-undescribed column at once.
//     Columns they leave out fall through to the next stage individually.
package annotate

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/yanizio/catalog/internal/logger"
	"github.com/yanizio/catalog/internal/metrics"
)

// Description sources.
const (
	SourceAI   = "ai"
	SourceRule = "rule"
	SourceNone = "none"
)

// Column is the annotation input.
type Column struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Samples []string `json:"samples,omitempty"`
	Table   string   `json:"table,omitempty"`
	Comment string   `json:"comment,omitempty"`
}

// Description is the annotation output.
type Description struct {
	Description  string   `json:"description"`
	BusinessTerm string   `json:"business_term,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	QualityHint  string   `json:"quality_hint,omitempty"`
	Source       string   `json:"source"`
}

// Empty reports whether d carries no description text.
func (d Description) Empty() bool { return strings.TrimSpace(d.Description) == "" }

// Annotator describes one column.
type Annotator interface {
	Annotate(ctx context.Context, col Column) (Description, error)
}

// BatchAnnotator describes several columns in one call.  The result is
// keyed by column name and may omit columns.
type BatchAnnotator interface {
	Annotator
	AnnotateBatch(ctx context.Context, cols []Column) (map[string]Description, error)
}

// SampleUser is implemented by stages that read Column.Samples.  Callers
// skip sampling the source when no stage does.
type SampleUser interface {
	UsesSamples() bool
}

// UsesSamples reports whether a implements SampleUser and wants samples.
func UsesSamples(a Annotator) bool {
	su, ok := a.(SampleUser)
	return ok && su.UsesSamples()
}

// Error is a stage failure.  It is logged by the Chain, never returned.
type Error struct {
	Stage  string
	Column string
	Err    error
}

func (e *Error) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("annotate %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("annotate %s %s: %v", e.Stage, e.Column, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

//
// Chain
//

// Chain is the ordered fallback of stages.  It implements BatchAnnotator.
type Chain struct {
	stages []Annotator
	log    *zap.SugaredLogger
}

// NewChain composes stages in priority order.  Nil stages are skipped.
func NewChain(log *zap.SugaredLogger, stages ...Annotator) *Chain {
	c := &Chain{log: logger.OrNop(log)}
	for _, s := range stages {
		if s != nil {
			c.stages = append(c.stages, s)
		}
	}
	return c
}

// UsesSamples reports whether any stage reads samples.
func (c *Chain) UsesSamples() bool {
	for _, s := range c.stages {
		if UsesSamples(s) {
			return true
		}
	}
	return false
}

// Annotate returns the first non-empty description.  The error is always
// nil.
func (c *Chain) Annotate(ctx context.Context, col Column) (Description, error) {
	for _, s := range c.stages {
		d, err := s.Annotate(ctx, col)
		if err != nil {
			c.fallback(col.Name, err)
			continue
		}
		if !d.Empty() {
			metrics.AnnotationsTotal.WithLabelValues(d.Source).Inc()
			return d, nil
		}
	}
	metrics.AnnotationsTotal.WithLabelValues(SourceNone).Inc()
	return Description{Source: SourceNone}, nil
}

// AnnotateBatch describes every column in cols.  The result holds one
// entry per column name.  The error is always nil.
func (c *Chain) AnnotateBatch(ctx context.Context, cols []Column) (map[string]Description, error) {
	out := make(map[string]Description, len(cols))
	pending := cols

	for _, s := range c.stages {
		if len(pending) == 0 {
			break
		}
		if b, ok := s.(BatchAnnotator); ok {
			got, err := b.AnnotateBatch(ctx, pending)
			if err != nil {
				c.fallback("", err)
			}
			for _, col := range pending {
				if d, ok := got[col.Name]; ok && !d.Empty() {
					out[col.Name] = d
				}
			}
		} else {
			for _, col := range pending {
				d, err := s.Annotate(ctx, col)
				if err != nil {
					c.fallback(col.Name, err)
					continue
				}
				if !d.Empty() {
					out[col.Name] = d
				}
			}
		}
		pending = missing(pending, out)
	}

	for _, col := range pending {
		out[col.Name] = Description{Source: SourceNone}
	}
	for _, d := range out {
		metrics.AnnotationsTotal.WithLabelValues(d.Source).Inc()
	}
	return out, nil
}

func (c *Chain) fallback(column string, err error) {
	metrics.AnnotationFallbacksTotal.Inc()
	c.log.Debugw("annotation stage failed, falling back", "column", column, "err", err)
}

func missing(cols []Column, done map[string]Description) []Column {
	var rest []Column
	for _, col := range cols {
		if _, ok := done[col.Name]; !ok {
			rest = append(rest, col)
		}
	}
	return rest
}
