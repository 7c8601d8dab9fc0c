package recommendation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/labopti/labopti/pkg/sets"
)

type fakeStore struct {
	symptoms map[string][]string
	validity map[string]int
	above40  []string
	above50  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		symptoms: map[string][]string{
			"fever":   {"CBC", "CRP"},
			"fatigue": {"CBC", "TSH"},
		},
		validity: map[string]int{"CBC": 90, "CRP": 30, "TSH": 180, "HbA1c": 0},
		above40:  []string{"Lipid Panel"},
		above50:  []string{"HbA1c", "ECG"},
	}
}

func (f *fakeStore) TestsForSymptom(s string) sets.Set[string] {
	return sets.New(f.symptoms[strings.ToLower(strings.TrimSpace(s))]...)
}

func (f *fakeStore) ValidityDays(name string) int {
	if d, ok := f.validity[name]; ok {
		return d
	}
	return 90
}

func (f *fakeStore) AgeBracketTests(age int) sets.Set[string] {
	switch {
	case age >= 50:
		return sets.New(f.above50...)
	case age >= 40:
		return sets.New(f.above40...)
	}
	return sets.New[string]()
}

func (f *fakeStore) DefaultTest() string { return "CBC" }

type fakeHistory struct {
	dates map[string]time.Time
	err   error
}

func (f *fakeHistory) LastResultDate(_ context.Context, _ uuid.UUID, name string) (*time.Time, error) {
	if f.err != nil {
		return nil, f.err
	}
	if d, ok := f.dates[name]; ok {
		return &d, nil
	}
	return nil, nil
}

type fakeExplainer struct {
	mu             sync.Mutex
	recommendCalls []RecommendRequest
	skipCalls      []string
	interpretCalls atomic.Int32
	inFlight       atomic.Int32
	maxInFlight    atomic.Int32

	failRecommend map[string]bool
	failSkip      bool
	failInterpret bool
	slow          map[string]time.Duration
	delay         time.Duration
}

func (f *fakeExplainer) enter() func() {
	n := f.inFlight.Add(1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeExplainer) wait(ctx context.Context, name string) error {
	d := f.delay
	if s, ok := f.slow[name]; ok {
		d = s
	}
	if d == 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeExplainer) ExplainRecommendation(ctx context.Context, req RecommendRequest) Narrative {
	defer f.enter()()
	f.mu.Lock()
	f.recommendCalls = append(f.recommendCalls, req)
	f.mu.Unlock()
	if err := f.wait(ctx, req.TestName); err != nil {
		return Degraded("", err)
	}
	if f.failRecommend[req.TestName] {
		return Degraded("", errors.New("upstream 503"))
	}
	return Success("why " + req.TestName)
}

func (f *fakeExplainer) ExplainSkip(ctx context.Context, name string, _ time.Time, _ int) Narrative {
	defer f.enter()()
	f.mu.Lock()
	f.skipCalls = append(f.skipCalls, name)
	f.mu.Unlock()
	if err := f.wait(ctx, name); err != nil {
		return Degraded("", err)
	}
	if f.failSkip {
		return Degraded("", errors.New("upstream 503"))
	}
	return Success("skip " + name)
}

func (f *fakeExplainer) ExplainInterpretation(ctx context.Context, name string, abnormal []Parameter) (Narrative, Narrative) {
	f.interpretCalls.Add(1)
	if err := f.wait(ctx, name); err != nil {
		return Degraded("", err), Degraded("", err)
	}
	if f.failInterpret {
		err := errors.New("rate limited")
		return Degraded("", err), Degraded("", err)
	}
	return Success("patient " + abnormal[0].Name), Success("clinician " + abnormal[0].Name)
}
