package flow

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"flow-agent/internal/browser"
	"flow-agent/pkg/apperr"
	"flow-agent/pkg/logg"
	"flow-agent/pkg/tracing"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

const (
	navigatorName = "NavigationController"

	navSettleMinMs = 4000
	navSettleMaxMs = 9000

	controlWait    = 8 * time.Second
	menuWait       = 6 * time.Second
	projectURLWait = 15 * time.Second
	promptWaitMs   = 20000

	maxNavSteps = 6
)

type navState int

const (
	stateLanding navState = iota
	stateAwaitingNewProject
	stateInExistingProject
	stateProjectReady
)

func (s navState) String() string {
	switch s {
	case stateLanding:
		return "landing"
	case stateAwaitingNewProject:
		return "awaiting_new_project"
	case stateInExistingProject:
		return "in_existing_project"
	case stateProjectReady:
		return "project_ready"
	default:
		return "unknown"
	}
}

type navAction int

const (
	actClickNewProject navAction = iota
	actForceFreshProject
	actVerifyPrompt
	actRetryNavigation
)

type navObservation struct {
	ProjectURL bool
}

// transition is the pure state machine over page location. The live loop
// executes the returned action and feeds the next observation back in.
func transition(state navState, obs navObservation) (navState, navAction) {
	switch state {
	case stateLanding:
		if obs.ProjectURL {
			return stateInExistingProject, actForceFreshProject
		}

		return stateAwaitingNewProject, actClickNewProject
	case stateAwaitingNewProject:
		if obs.ProjectURL {
			return stateProjectReady, actVerifyPrompt
		}

		return stateAwaitingNewProject, actRetryNavigation
	case stateInExistingProject:
		if obs.ProjectURL {
			return stateProjectReady, actVerifyPrompt
		}

		return stateAwaitingNewProject, actClickNewProject
	default:
		return stateProjectReady, actVerifyPrompt
	}
}

type Navigator struct {
	deps      phaseDeps
	projectRe *regexp.Regexp
}

func newNavigator(deps phaseDeps) (*Navigator, error) {
	projectRe, err := regexp.Compile(deps.config.FlowConfig.ProjectURLPattern)
	if err != nil {
		return nil, fmt.Errorf("compile project URL pattern: %w", err)
	}

	return &Navigator{
		deps:      deps,
		projectRe: projectRe,
	}, nil
}

var newProjectTarget = browser.Target{
	Name: "new project control",
	Steps: []browser.Step{
		browser.Text("New project", false),
		browser.Label("New project", false),
		browser.Role("button", "create"),
	},
}

var freshProjectTarget = browser.Target{
	Name: "fresh project control",
	Steps: []browser.Step{
		browser.Label("New project", false),
		browser.Text("+", true),
		browser.Role("menuitem", "new"),
	},
}

// Run drives the page from the landing URL into a ready project: prompt
// input visible on a project-pattern URL. Absence of the prompt input at
// the end is fatal for the request.
func (n *Navigator) Run(ctx context.Context, page playwright.Page) (err error) {
	const op = "Run"
	logger := n.deps.logger.With(
		zap.String(logg.Layer, navigatorName),
		zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, n.deps.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	if err := n.open(page, n.deps.config.FlowConfig.BaseURL); err != nil {
		return err
	}

	state := stateLanding
	cacheBusted := false

	for i := 0; i < maxNavSteps; i++ {
		if err := ctx.Err(); err != nil {
			return apperr.WrapWithReason(op, apperr.CodeNavigationFailed, err, "context_cancelled")
		}

		obs := navObservation{ProjectURL: n.projectRe.MatchString(page.URL())}

		var action navAction
		state, action = transition(state, obs)

		logger.Debug("navigation step",
			zap.String(logg.Phase, state.String()),
			zap.String(logg.URL, page.URL()))

		switch action {
		case actClickNewProject:
			n.clickControl(page, newProjectTarget, controlWait, logger)

			if !n.waitProjectURL(page, projectURLWait) && !cacheBusted {
				cacheBusted = true
				logger.Info("Project URL did not appear, retrying with cache-busting")

				if err := n.open(page, cacheBustURL(n.deps.config.FlowConfig.BaseURL)); err != nil {
					return err
				}

				state = stateLanding
			}
		case actForceFreshProject:
			if n.clickControl(page, freshProjectTarget, menuWait, logger) {
				n.waitProjectURL(page, projectURLWait)
			} else {
				logger.Info("No fresh-project control found, continuing in existing project")
			}
		case actRetryNavigation:
			return apperr.WrapErrorWithReason(op, apperr.CodeNavigationFailed, "project_url_unreachable")
		case actVerifyPrompt:
			step.AddEvent("verifying prompt input")

			_, err := page.WaitForSelector(n.deps.config.FlowConfig.PromptSelector, playwright.PageWaitForSelectorOptions{
				Timeout: playwright.Float(promptWaitMs),
				State:   playwright.WaitForSelectorStateVisible,
			})
			if err != nil {
				return apperr.Wrap(op, apperr.CodeNavigationFailed, err, map[string]any{
					apperr.MetaReason: "prompt_input_missing",
					apperr.MetaStage:  apperr.StageNavigation,
				})
			}

			logger.Info("Project ready", zap.String(logg.URL, page.URL()))

			return nil
		}
	}

	return apperr.WrapErrorWithReason(op, apperr.CodeNavigationFailed, "navigation_did_not_converge")
}

func (n *Navigator) open(page playwright.Page, url string) error {
	const op = "open"

	_, err := page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(n.deps.config.BrowserConfig.Timeout)),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return apperr.Wrap(op, apperr.CodeNavigationFailed, err, map[string]any{
			apperr.MetaReason: "goto_failed",
			apperr.MetaStage:  apperr.StageNavigation,
			apperr.MetaURL:    url,
		})
	}

	// Redirect chains on the landing URL settle on their own schedule, so
	// the wait is human-scale and randomized rather than a fixed timeout.
	n.deps.sim.Pause(navSettleMinMs, navSettleMaxMs)
	n.deps.sim.Scroll(page)

	return nil
}

func (n *Navigator) clickControl(page playwright.Page, target browser.Target, wait time.Duration, logger *zap.Logger) bool {
	el, err := n.deps.resolver.WaitResolve(page, target, wait)
	if err != nil {
		logger.Info("Control not found, skipping", zap.String(logg.Target, target.Name))

		return false
	}

	if err := n.deps.sim.Click(page, el); err != nil {
		logger.Warn("Click failed", zap.String(logg.Target, target.Name), zap.Error(err))

		return false
	}

	n.deps.sim.Pause(600, 1400)

	return true
}

func (n *Navigator) waitProjectURL(page playwright.Page, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if n.projectRe.MatchString(page.URL()) {
			return true
		}

		time.Sleep(500 * time.Millisecond)
	}

	return false
}

func cacheBustURL(base string) string {
	sep := "?"
	for _, r := range base {
		if r == '?' {
			sep = "&"
		}
	}

	return fmt.Sprintf("%s%sfresh=%d", base, sep, time.Now().UnixNano())
}
