package flow

import (
	"context"
	"time"

	"flow-agent/internal/browser"
	"flow-agent/internal/entity"
	"flow-agent/pkg/apperr"
	"flow-agent/pkg/logg"
	"flow-agent/pkg/tracing"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

const (
	submitterName = "PromptSubmitter"

	promptWait = 10 * time.Second
	submitWait = 8 * time.Second
)

type Submitter struct {
	deps phaseDeps
}

func newSubmitter(deps phaseDeps) *Submitter {
	return &Submitter{deps: deps}
}

var submitTarget = browser.Target{
	Name: "generate control",
	Steps: []browser.Step{
		browser.Label("Generate", false),
		browser.Text("arrow_forward", true),
		browser.Text("Generate", false),
		browser.Role("button", "generate"),
	},
}

// Run types the prompt into the input and fires generation. A missing
// prompt input here is fatal; everything upstream already verified it
// once, so absence means the page regressed.
func (s *Submitter) Run(ctx context.Context, page playwright.Page, prompt string, report entity.ProgressFunc) (err error) {
	const op = "Run"
	logger := s.deps.logger.With(
		zap.String(logg.Layer, submitterName),
		zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, s.deps.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	report("Entering prompt")

	input, err := page.WaitForSelector(s.deps.config.FlowConfig.PromptSelector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(float64(promptWait.Milliseconds())),
		State:   playwright.WaitForSelectorStateVisible,
	})
	if err != nil {
		return apperr.Wrap(op, apperr.CodeNavigationFailed, err, map[string]any{
			apperr.MetaReason:   "prompt_input_missing",
			apperr.MetaStage:    apperr.StagePrompt,
			apperr.MetaSelector: s.deps.config.FlowConfig.PromptSelector,
		})
	}

	if err := input.Focus(); err != nil {
		if err := s.deps.sim.Click(page, input); err != nil {
			return apperr.WrapWithReason(op, apperr.CodeUnavailable, err, "prompt_focus_failed")
		}
	}

	// Stale text from an earlier attempt must not leak into this request.
	if err := input.Fill(""); err != nil {
		logger.Debug("Prompt clear failed, typing anyway", zap.Error(err))
	}

	if err := s.deps.sim.Type(page, input, prompt); err != nil {
		return apperr.WrapWithReason(op, apperr.CodeUnavailable, err, "prompt_type_failed")
	}

	step.AddEvent("prompt entered")
	s.deps.sim.Pause(500, 1200)
	s.deps.sim.Idle(page)

	report("Submitting generation")

	submit, err := s.deps.resolver.WaitResolve(page, submitTarget, submitWait)
	if err != nil {
		return apperr.Wrap(op, apperr.CodeElementNotFound, err, map[string]any{
			apperr.MetaReason: "submit_control_missing",
			apperr.MetaStage:  apperr.StagePrompt,
		})
	}

	if err := s.deps.sim.Click(page, submit); err != nil {
		return apperr.WrapWithReason(op, apperr.CodeUnavailable, err, "submit_click_failed")
	}

	s.deps.sim.Pause(800, 1600)
	logger.Info("Generation submitted")

	return nil
}

// fatalSubmitError reports whether submission failed because the page
// lost its prompt input. That is a readiness regression; every other
// submission failure degrades to polling, where a dead submission shows
// up as no results.
func fatalSubmitError(err error) bool {
	return apperr.IsCode(err, apperr.CodeNavigationFailed)
}
