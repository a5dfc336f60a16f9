package flow

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"flow-agent/internal/entity"
	"flow-agent/pkg/apperr"
	"flow-agent/pkg/logg"
	"flow-agent/pkg/tracing"

	"github.com/playwright-community/playwright-go"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const pollerName = "GenerationPoller"

// Snapshot is one observation of the results area: the video URLs
// currently rendered and how many tiles show a failure indicator.
type Snapshot struct {
	VideoURLs   []string
	FailedCount int
}

type pollOutcome int

const (
	outcomeContinue pollOutcome = iota
	outcomeAllDone
	outcomeStabilized
	outcomeRetry
	outcomeTimedOut
)

func (o pollOutcome) String() string {
	switch o {
	case outcomeContinue:
		return "continue"
	case outcomeAllDone:
		return "all_done"
	case outcomeStabilized:
		return "stabilized"
	case outcomeRetry:
		return "retry"
	case outcomeTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// PageProbe is the poller's view of the page: take a snapshot, trigger a
// retry on failed tiles. Live runs use the playwright-backed probe; tests
// substitute a scripted one.
type PageProbe interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	Retry(ctx context.Context) bool
}

// Poller decides when a generation run is finished. The decision logic is
// a pure function over accumulated state so its rule ordering can be
// verified without a browser.
type Poller struct {
	deps phaseDeps

	wanted       int
	maxRetries   int
	stableCycles int
}

func newPoller(deps phaseDeps, wanted int) *Poller {
	return &Poller{
		deps:         deps,
		wanted:       wanted,
		maxRetries:   deps.config.FlowConfig.MaxRetries,
		stableCycles: deps.config.FlowConfig.StableCycles,
	}
}

// Observe folds one snapshot into the state and decides. Rule order:
// every output accounted for wins, then stabilization, then retry (which
// resets stabilization), then timeout.
func (p *Poller) Observe(state *entity.PollState, snap Snapshot, timedOut bool) pollOutcome {
	before := len(state.VideoURLs)
	state.VideoURLs = mergeURLs(state.VideoURLs, snap.VideoURLs)
	state.FailedCount = snap.FailedCount

	if len(state.VideoURLs)+state.FailedCount >= p.wanted {
		return outcomeAllDone
	}

	if len(state.VideoURLs) > 0 && len(state.VideoURLs) == before {
		state.StableCycles++
		if state.StableCycles >= p.stableCycles {
			return outcomeStabilized
		}
	} else {
		state.StableCycles = 0
	}

	if state.FailedCount > 0 && state.RetryAttempts < p.maxRetries {
		state.RetryAttempts++
		state.StableCycles = 0

		return outcomeRetry
	}

	if timedOut {
		return outcomeTimedOut
	}

	return outcomeContinue
}

// mergeURLs grows the accumulated set without reordering: results keep
// the order in which they first appeared, and a URL that vanishes from a
// later snapshot stays collected.
func mergeURLs(have, seen []string) []string {
	known := make(map[string]struct{}, len(have))
	for _, u := range have {
		known[u] = struct{}{}
	}

	for _, u := range seen {
		if _, ok := known[u]; ok {
			continue
		}

		known[u] = struct{}{}
		have = append(have, u)
	}

	return have
}

// Run polls until a terminal outcome and converts it into a result.
// Partial output is still a success; only zero collected URLs fails.
func (p *Poller) Run(ctx context.Context, probe PageProbe, report entity.ProgressFunc) (result *entity.VideoGenerationResult, err error) {
	const op = "Run"
	logger := p.deps.logger.With(
		zap.String(logg.Layer, pollerName),
		zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, p.deps.tracer, logger, op,
		attribute.Int("wanted", p.wanted))
	defer func() {
		step.End(err)
	}()

	maxWait := p.deps.config.FlowConfig.MaxWait
	interval := p.deps.config.FlowConfig.PollInterval
	started := time.Now()

	state := &entity.PollState{VideoURLs: []string{}}

	for {
		select {
		case <-ctx.Done():
			return p.finish(state, outcomeTimedOut, logger, report), nil
		case <-time.After(interval):
		}

		state.Elapsed = time.Since(started)

		snap, snapErr := probe.Snapshot(ctx)
		if snapErr != nil {
			logger.Warn("Snapshot failed, keeping previous state", zap.Error(snapErr))

			snap = Snapshot{VideoURLs: nil, FailedCount: state.FailedCount}
		}

		outcome := p.Observe(state, snap, state.Elapsed >= maxWait)

		logger.Debug("poll cycle",
			zap.String(logg.Status, outcome.String()),
			zap.Int("collected", len(state.VideoURLs)),
			zap.Int("failed", state.FailedCount),
			zap.Duration("elapsed", state.Elapsed))

		report(fmt.Sprintf("Generation progress: %d/%d ready, %d failed (%s elapsed)",
			len(state.VideoURLs), p.wanted, state.FailedCount, state.Elapsed.Round(time.Second)))

		switch outcome {
		case outcomeContinue:
			continue
		case outcomeRetry:
			step.AddEvent("retrying failed tiles",
				attribute.Int("attempt", state.RetryAttempts))
			report(fmt.Sprintf("Retrying failed generations (attempt %d/%d)",
				state.RetryAttempts, p.maxRetries))

			if !probe.Retry(ctx) {
				logger.Info("No retry control found on failed tiles")
			}

			continue
		default:
			return p.finish(state, outcome, logger, report), nil
		}
	}
}

func (p *Poller) finish(state *entity.PollState, outcome pollOutcome, logger *zap.Logger, report entity.ProgressFunc) *entity.VideoGenerationResult {
	if len(state.VideoURLs) > 0 {
		if len(state.VideoURLs) < p.wanted {
			report(fmt.Sprintf("Finished with partial results: %d of %d",
				len(state.VideoURLs), p.wanted))
		}

		logger.Info("Polling finished",
			zap.String(logg.Status, outcome.String()),
			zap.Int("collected", len(state.VideoURLs)))

		return entity.SuccessResult(state.VideoURLs)
	}

	logger.Warn("Polling finished with no results",
		zap.String(logg.Status, outcome.String()),
		zap.Duration("elapsed", state.Elapsed))

	if outcome == outcomeTimedOut {
		return entity.FailureResult(fmt.Sprintf(
			"no videos were produced within %s", p.deps.config.FlowConfig.MaxWait))
	}

	return entity.FailureResult("generation produced no results")
}

// pageProbe implements PageProbe against the live page. Snapshot and
// retry-triggering both run inside the page so one evaluate covers the
// whole results area.
type pageProbe struct {
	page    playwright.Page
	videoRe *regexp.Regexp
	depth   int
	logger  *zap.Logger
}

func newPageProbe(deps phaseDeps, page playwright.Page) (*pageProbe, error) {
	const op = "newPageProbe"

	videoRe, err := regexp.Compile(deps.config.FlowConfig.VideoURLPattern)
	if err != nil {
		return nil, apperr.WrapWithReason(op, apperr.CodeInternal, err, "video_url_pattern_invalid")
	}

	return &pageProbe{
		page:    page,
		videoRe: videoRe,
		depth:   deps.config.FlowConfig.RetryAncestorDepth,
		logger:  deps.logger.With(zap.String(logg.Layer, pollerName)),
	}, nil
}

// snapshotScript collects candidate video sources and counts tiles whose
// leaf text is a bare failure word. Filtering by URL host pattern happens
// on the Go side.
const snapshotScript = `() => {
	const urls = [];
	for (const v of document.querySelectorAll('video')) {
		if (v.src) urls.push(v.src);
		for (const s of v.querySelectorAll('source')) {
			if (s.src) urls.push(s.src);
		}
	}

	let failed = 0;
	const failWords = new Set(['failed', 'error', 'something went wrong']);
	for (const el of document.querySelectorAll('div, span, p')) {
		if (el.children.length > 0) continue;
		const text = (el.textContent || '').trim().toLowerCase();
		if (failWords.has(text)) failed++;
	}

	return { urls, failed };
}`

func (p *pageProbe) Snapshot(ctx context.Context) (Snapshot, error) {
	const op = "Snapshot"

	raw, err := p.page.Evaluate(snapshotScript)
	if err != nil {
		return Snapshot{}, apperr.WrapWithReason(op, apperr.CodeUnavailable, err, "snapshot_evaluate_failed")
	}

	data, ok := raw.(map[string]interface{})
	if !ok {
		return Snapshot{}, apperr.WrapErrorWithReason(op, apperr.CodeInternal, "snapshot_shape_unexpected")
	}

	snap := Snapshot{}

	if urls, ok := data["urls"].([]interface{}); ok {
		for _, u := range urls {
			s, ok := u.(string)
			if !ok || !p.videoRe.MatchString(s) {
				continue
			}

			snap.VideoURLs = append(snap.VideoURLs, s)
		}
	}

	snap.FailedCount = asInt(data["failed"])

	return snap, nil
}

// retryScript walks up from each failure indicator within the bounded
// ancestor depth. A directly labeled retry control is clicked; failing
// that, the tile's item menu is opened so a follow-up pass can pick the
// regenerate entry out of it.
const retryScript = `(maxDepth) => {
	const failWords = new Set(['failed', 'error', 'something went wrong']);
	const retryWords = ['retry', 'try again', 'regenerate'];
	const menuWords = ['more', 'options', 'menu'];

	let clicked = 0;
	let menusOpened = 0;

	for (const el of document.querySelectorAll('div, span, p')) {
		if (el.children.length > 0) continue;
		const text = (el.textContent || '').trim().toLowerCase();
		if (!failWords.has(text)) continue;

		let handled = false;
		let node = el;
		for (let depth = 0; depth < maxDepth && node && !handled; depth++, node = node.parentElement) {
			for (const btn of node.querySelectorAll("button, [role='button']")) {
				const label = ((btn.getAttribute('aria-label') || '') + ' ' + (btn.textContent || '')).toLowerCase();
				if (retryWords.some(w => label.includes(w))) {
					btn.click();
					clicked++;
					handled = true;
					break;
				}
			}
		}

		if (handled) continue;

		node = el;
		for (let depth = 0; depth < maxDepth && node && !handled; depth++, node = node.parentElement) {
			for (const btn of node.querySelectorAll("button, [role='button']")) {
				const label = ((btn.getAttribute('aria-label') || '') + ' ' + (btn.textContent || '')).toLowerCase();
				const hasPopup = btn.getAttribute('aria-haspopup');
				if (hasPopup || menuWords.some(w => label.includes(w))) {
					btn.click();
					menusOpened++;
					handled = true;
					break;
				}
			}
		}
	}

	return { clicked, menusOpened };
}`

// retryMenuScript clicks a regenerate entry in whatever item menu the
// first pass left open.
const retryMenuScript = `() => {
	const retryWords = ['retry', 'try again', 'regenerate'];

	for (const entry of document.querySelectorAll("[role='menuitem'], [role='option'], li")) {
		const label = ((entry.getAttribute('aria-label') || '') + ' ' + (entry.textContent || '')).toLowerCase();
		if (retryWords.some(w => label.includes(w))) {
			entry.click();
			return true;
		}
	}

	return false;
}`

func (p *pageProbe) Retry(ctx context.Context) bool {
	raw, err := p.page.Evaluate(retryScript, p.depth)
	if err != nil {
		p.logger.Warn("Retry trigger failed", zap.Error(err))

		return false
	}

	data, ok := raw.(map[string]interface{})
	if !ok {
		return false
	}

	clicked := asInt(data["clicked"])
	menusOpened := asInt(data["menusOpened"])

	if menusOpened > 0 {
		time.Sleep(400 * time.Millisecond)

		if raw, err := p.page.Evaluate(retryMenuScript); err == nil {
			if picked, _ := raw.(bool); picked {
				clicked++
			}
		}
	}

	return clicked > 0
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
