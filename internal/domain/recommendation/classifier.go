package recommendation

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Partition splits parameters by their abnormal flag, preserving order.
func Partition(params []Parameter) (normal, abnormal []Parameter) {
	for _, p := range params {
		if p.IsAbnormal {
			abnormal = append(abnormal, p)
		} else {
			normal = append(normal, p)
		}
	}
	return normal, abnormal
}

// Classifier gates interpretation narratives on abnormal parameters.
type Classifier struct {
	explainer Explainer
	opts      Options
	log       zerolog.Logger
}

func NewClassifier(explainer Explainer, opts Options) *Classifier {
	opts = opts.withDefaults()
	return &Classifier{
		explainer: explainer,
		opts:      opts,
		log:       opts.Logger.With().Str("component", "classifier").Logger(),
	}
}

// Classify returns the canned interpretation when every parameter is
// normal. Otherwise it asks the explainer for both narratives; if either
// fails the degraded interpretation is returned.
func (c *Classifier) Classify(ctx context.Context, testName string, params []Parameter) TestInterpretation {
	_, abnormal := Partition(params)
	if len(abnormal) == 0 {
		c.opts.Metrics.interpretation(OutcomeCanned)
		return TestInterpretation{TestName: testName, Interpretation: CannedInterpretation(), Outcome: OutcomeCanned}
	}

	type pair struct{ patient, clinician Narrative }
	ctx, cancel := context.WithTimeout(ctx, c.opts.NarrativeTimeout)
	defer cancel()

	done := make(chan pair, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p := Degraded("", errPanic{r})
				done <- pair{p, p}
			}
		}()
		p, cl := c.explainer.ExplainInterpretation(ctx, testName, abnormal)
		done <- pair{p, cl}
	}()

	var res pair
	select {
	case res = <-done:
	case <-ctx.Done():
		d := Degraded("", ctx.Err())
		res = pair{d, d}
	}

	if cause := firstCause(res.patient, res.clinician); cause != nil {
		c.opts.Metrics.narrativeDegraded("interpret")
		c.opts.Metrics.interpretation(OutcomeDegraded)
		c.log.Warn().Err(cause).Str("test", testName).Int("abnormal", len(abnormal)).Msg("interpretation degraded, using fallback")
		return TestInterpretation{TestName: testName, Interpretation: DegradedInterpretation(cause), Outcome: OutcomeDegraded}
	}

	c.opts.Metrics.interpretation(OutcomeGenerated)
	return TestInterpretation{
		TestName: testName,
		Interpretation: Interpretation{
			PatientFriendly:  res.patient.Text,
			ClinicianSummary: res.clinician.Text,
		},
		Outcome: OutcomeGenerated,
	}
}

func firstCause(ns ...Narrative) error {
	for _, n := range ns {
		if n.IsDegraded() {
			return n.Cause
		}
		if n.Text == "" {
			return errEmptyNarrative
		}
	}
	return nil
}

// ClassifyBatch interprets every result independently. The returned slice
// follows the input order.
func (c *Classifier) ClassifyBatch(ctx context.Context, results []LabResult) []TestInterpretation {
	out := make([]TestInterpretation, len(results))
	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)
	for i, r := range results {
		g.Go(func() error {
			out[i] = c.Classify(ctx, r.TestName, r.Parameters)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// ErrNoResults is returned by callers that require at least one lab result.
var ErrNoResults = errors.New("at least one lab result is required")
