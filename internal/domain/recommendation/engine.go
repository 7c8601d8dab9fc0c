// Package recommendation decides which laboratory tests to order or skip for
// a visit and classifies uploaded results for interpretation.
package recommendation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidAge is returned for negative patient ages.
var ErrInvalidAge = errors.New("age must be a non-negative integer")

const (
	DefaultNarrativeTimeout = 20 * time.Second
	DefaultConcurrency      = 4
)

// Options tune an Engine or Classifier. Zero values select the defaults.
type Options struct {
	NarrativeTimeout time.Duration
	Concurrency      int
	Metrics          *Metrics
	Logger           zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.NarrativeTimeout <= 0 {
		o.NarrativeTimeout = DefaultNarrativeTimeout
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	return o
}

// DecideRequest is the input to a decision run.
type DecideRequest struct {
	PatientID uuid.UUID
	Symptoms  []string
	Age       int
	Gender    string
	Now       time.Time
}

// Engine assembles recommended and skipped tests for a visit.
type Engine struct {
	selector  *Selector
	evaluator *Evaluator
	explainer Explainer
	opts      Options
	log       zerolog.Logger
}

func NewEngine(store GuidelineStore, history HistoryLookup, explainer Explainer, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		selector:  NewSelector(store),
		evaluator: NewEvaluator(store, history),
		explainer: explainer,
		opts:      opts,
		log:       opts.Logger.With().Str("component", "recommendation").Logger(),
	}
}

// Decide selects candidates, evaluates each against history in test name
// order and narrates every decision. Narratives run concurrently up to the
// configured limit, each under its own deadline; a failed narrative is
// replaced by fallback text and never changes the classification.
func (e *Engine) Decide(ctx context.Context, req DecideRequest) (*Plan, error) {
	if req.Age < 0 {
		return nil, ErrInvalidAge
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}

	candidates := e.selector.Select(req.Symptoms, req.Age).Sorted()

	validities := make([]Validity, len(candidates))
	for i, name := range candidates {
		v, err := e.evaluator.Evaluate(ctx, req.PatientID, name, req.Now)
		if err != nil {
			return nil, err
		}
		validities[i] = v
	}

	decisions := make([]Decision, len(candidates))
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, name := range candidates {
		g.Go(func() error {
			decisions[i] = e.decideOne(ctx, req, name, validities[i])
			return nil
		})
	}
	_ = g.Wait()

	plan := &Plan{Decisions: decisions}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	e.log.Debug().
		Str("patient_id", req.PatientID.String()).
		Int("recommended", len(plan.Recommended())).
		Int("skipped", len(plan.Skipped())).
		Msg("decision run complete")
	return plan, nil
}

func (e *Engine) decideOne(ctx context.Context, req DecideRequest, name string, v Validity) Decision {
	if v.Status == StatusValid {
		fallback := SkipFallback(*v.LastDate, v.ValidityDays)
		n := bounded(ctx, e.opts.NarrativeTimeout, fallback, func(ctx context.Context) Narrative {
			return e.explainer.ExplainSkip(ctx, name, *v.LastDate, v.ValidityDays)
		})
		e.observe("skip", name, n)
		d := NewSkipped(name, n.Text, *v.LastDate, v)
		d.NarrativeDegraded = n.IsDegraded()
		e.opts.Metrics.decision(KindSkipped)
		return d
	}

	fallback := RecommendFallback(name)
	n := bounded(ctx, e.opts.NarrativeTimeout, fallback, func(ctx context.Context) Narrative {
		return e.explainer.ExplainRecommendation(ctx, RecommendRequest{
			TestName: name,
			Symptoms: req.Symptoms,
			Age:      req.Age,
			Gender:   req.Gender,
		})
	})
	e.observe("recommend", name, n)
	d := NewRecommended(name, n.Text, v)
	d.NarrativeDegraded = n.IsDegraded()
	e.opts.Metrics.decision(KindRecommended)
	return d
}

func (e *Engine) observe(kind, testName string, n Narrative) {
	if !n.IsDegraded() {
		return
	}
	e.opts.Metrics.narrativeDegraded(kind)
	e.log.Warn().Err(n.Cause).Str("test", testName).Str("narrative", kind).Msg("narrative degraded, using fallback")
}

// bounded runs fn under a deadline of timeout. If fn does not return in time
// the fallback is used; a degraded result with empty text is also given the
// fallback.
func bounded(ctx context.Context, timeout time.Duration, fallback string, fn func(context.Context) Narrative) Narrative {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Narrative, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Degraded(fallback, errPanic{r})
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case n := <-done:
		if n.IsDegraded() && n.Text == "" {
			n.Text = fallback
		}
		if !n.IsDegraded() && n.Text == "" {
			return Degraded(fallback, errEmptyNarrative)
		}
		return n
	case <-ctx.Done():
		return Degraded(fallback, ctx.Err())
	}
}

var errEmptyNarrative = errors.New("explainer returned empty text")

type errPanic struct{ v any }

func (e errPanic) Error() string { return fmt.Sprintf("explainer panicked: %v", e.v) }
