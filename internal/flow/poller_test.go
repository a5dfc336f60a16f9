package flow

import (
	"context"
	"testing"
	"time"

	"flow-agent/internal/config"
	"flow-agent/internal/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func testDeps(flowConf *config.FlowConfig) phaseDeps {
	return phaseDeps{
		config: &config.Config{
			FlowConfig:    flowConf,
			BrowserConfig: &config.BrowserConfig{Timeout: 30000},
		},
		logger: zap.NewNop(),
		tracer: otel.Tracer("test"),
	}
}

func defaultFlowConfig() *config.FlowConfig {
	return &config.FlowConfig{
		MaxWait:      8 * time.Minute,
		PollInterval: 8 * time.Second,
		MaxRetries:   2,
		StableCycles: 3,
	}
}

func TestObserveAllDone(t *testing.T) {
	poller := newPoller(testDeps(defaultFlowConfig()), 2)
	state := &entity.PollState{VideoURLs: []string{}}

	outcome := poller.Observe(state, Snapshot{VideoURLs: []string{"https://v/1"}}, false)
	assert.Equal(t, outcomeContinue, outcome)

	outcome = poller.Observe(state, Snapshot{VideoURLs: []string{"https://v/1", "https://v/2"}}, false)
	assert.Equal(t, outcomeAllDone, outcome)
	assert.Equal(t, []string{"https://v/1", "https://v/2"}, state.VideoURLs)
}

func TestObserveStabilizesAfterUnchangedCycles(t *testing.T) {
	conf := defaultFlowConfig()
	poller := newPoller(testDeps(conf), 4)
	state := &entity.PollState{VideoURLs: []string{}}

	snap := Snapshot{VideoURLs: []string{"https://v/1", "https://v/2"}}

	assert.Equal(t, outcomeContinue, poller.Observe(state, snap, false))

	// Same snapshot repeated: the count stops changing.
	assert.Equal(t, outcomeContinue, poller.Observe(state, snap, false))
	assert.Equal(t, outcomeContinue, poller.Observe(state, snap, false))
	assert.Equal(t, outcomeStabilized, poller.Observe(state, snap, false))
}

func TestObserveNewURLResetsStabilization(t *testing.T) {
	poller := newPoller(testDeps(defaultFlowConfig()), 4)
	state := &entity.PollState{VideoURLs: []string{}}

	first := Snapshot{VideoURLs: []string{"https://v/1"}}
	assert.Equal(t, outcomeContinue, poller.Observe(state, first, false))
	assert.Equal(t, outcomeContinue, poller.Observe(state, first, false))
	assert.Equal(t, 1, state.StableCycles)

	grown := Snapshot{VideoURLs: []string{"https://v/1", "https://v/2"}}
	assert.Equal(t, outcomeContinue, poller.Observe(state, grown, false))
	assert.Equal(t, 0, state.StableCycles)
}

func TestObserveSettledBatchIsAllDone(t *testing.T) {
	poller := newPoller(testDeps(defaultFlowConfig()), 2)
	state := &entity.PollState{VideoURLs: []string{}}

	// One success plus one failed tile accounts for the whole batch, so
	// no retry is spent on it.
	snap := Snapshot{VideoURLs: []string{"https://v/1"}, FailedCount: 1}

	assert.Equal(t, outcomeAllDone, poller.Observe(state, snap, false))
	assert.Equal(t, 0, state.RetryAttempts)
}

func TestObserveRetryBudget(t *testing.T) {
	conf := defaultFlowConfig()
	conf.MaxRetries = 2
	poller := newPoller(testDeps(conf), 3)
	state := &entity.PollState{VideoURLs: []string{}}

	// One success, one failure, one still pending.
	snap := Snapshot{VideoURLs: []string{"https://v/1"}, FailedCount: 1}

	assert.Equal(t, outcomeRetry, poller.Observe(state, snap, false))
	assert.Equal(t, 1, state.RetryAttempts)

	assert.Equal(t, outcomeRetry, poller.Observe(state, snap, false))
	assert.Equal(t, 2, state.RetryAttempts)

	// Budget exhausted: the loop keeps polling on counts and time alone.
	assert.Equal(t, outcomeContinue, poller.Observe(state, snap, false))
	assert.Equal(t, 2, state.RetryAttempts)
	assert.Equal(t, outcomeTimedOut, poller.Observe(state, snap, true))
}

func TestObserveTimeoutWithNothingCollected(t *testing.T) {
	poller := newPoller(testDeps(defaultFlowConfig()), 2)
	state := &entity.PollState{VideoURLs: []string{}}

	assert.Equal(t, outcomeContinue, poller.Observe(state, Snapshot{}, false))
	assert.Equal(t, outcomeTimedOut, poller.Observe(state, Snapshot{}, true))
}

func TestObserveRetryResetsStabilization(t *testing.T) {
	conf := defaultFlowConfig()
	poller := newPoller(testDeps(conf), 3)
	state := &entity.PollState{
		VideoURLs:    []string{"https://v/1"},
		StableCycles: 1,
	}

	snap := Snapshot{VideoURLs: []string{"https://v/1"}, FailedCount: 1}

	// Retried tiles get a full stabilization window again.
	assert.Equal(t, outcomeRetry, poller.Observe(state, snap, false))
	assert.Equal(t, 0, state.StableCycles)
	assert.Equal(t, 1, state.RetryAttempts)
}

func TestMergeURLsGrowOnlyAndOrdered(t *testing.T) {
	have := []string{"a", "b"}

	merged := mergeURLs(have, []string{"b", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, merged)

	// A URL disappearing from a later snapshot stays collected.
	merged = mergeURLs(merged, []string{"c"})
	assert.Equal(t, []string{"a", "b", "c"}, merged)
}

type scriptedProbe struct {
	snapshots []Snapshot
	retried   int
	calls     int
}

func (p *scriptedProbe) Snapshot(ctx context.Context) (Snapshot, error) {
	idx := p.calls
	if idx >= len(p.snapshots) {
		idx = len(p.snapshots) - 1
	}

	p.calls++

	return p.snapshots[idx], nil
}

func (p *scriptedProbe) Retry(ctx context.Context) bool {
	p.retried++

	return true
}

func TestRunCollectsAllOutputs(t *testing.T) {
	conf := defaultFlowConfig()
	conf.PollInterval = time.Millisecond
	poller := newPoller(testDeps(conf), 2)

	probe := &scriptedProbe{snapshots: []Snapshot{
		{},
		{VideoURLs: []string{"https://v/1"}},
		{VideoURLs: []string{"https://v/1", "https://v/2"}},
	}}

	result, err := poller.Run(context.Background(), probe, func(string) {})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, []string{"https://v/1", "https://v/2"}, result.VideoURLs)
}

func TestRunSettledPartialBatchIsSuccess(t *testing.T) {
	conf := defaultFlowConfig()
	conf.PollInterval = time.Millisecond
	poller := newPoller(testDeps(conf), 2)

	probe := &scriptedProbe{snapshots: []Snapshot{
		{VideoURLs: []string{"https://v/1"}, FailedCount: 1},
	}}

	result, err := poller.Run(context.Background(), probe, func(string) {})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, []string{"https://v/1"}, result.VideoURLs)
	assert.Equal(t, 0, probe.retried)
}

func TestRunRetriesThenStabilizes(t *testing.T) {
	conf := defaultFlowConfig()
	conf.PollInterval = time.Millisecond
	conf.MaxRetries = 1
	poller := newPoller(testDeps(conf), 3)

	probe := &scriptedProbe{snapshots: []Snapshot{
		{VideoURLs: []string{"https://v/1"}, FailedCount: 1},
	}}

	result, err := poller.Run(context.Background(), probe, func(string) {})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, []string{"https://v/1"}, result.VideoURLs)
	assert.Equal(t, 1, probe.retried)
}

func TestRunTimeoutWithNoResultsFails(t *testing.T) {
	conf := defaultFlowConfig()
	conf.PollInterval = time.Millisecond
	conf.MaxWait = 5 * time.Millisecond
	poller := newPoller(testDeps(conf), 2)

	probe := &scriptedProbe{snapshots: []Snapshot{{}}}

	result, err := poller.Run(context.Background(), probe, func(string) {})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Empty(t, result.VideoURLs)
	assert.NotEmpty(t, result.Error)
}
