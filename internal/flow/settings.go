package flow

import (
	"context"
	"strconv"
	"time"

	"flow-agent/internal/browser"
	"flow-agent/internal/entity"
	"flow-agent/pkg/logg"
	"flow-agent/pkg/tracing"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

const (
	settingsName = "SettingsConfigurator"

	settingsWait = 6 * time.Second
)

// Settings drives the generation settings panel. Every miss inside the
// panel is log-and-continue: the site keeps its own defaults and the run
// proceeds with those.
type Settings struct {
	deps phaseDeps
}

func newSettings(deps phaseDeps) *Settings {
	return &Settings{deps: deps}
}

var settingsPanelTarget = browser.Target{
	Name: "settings panel control",
	Steps: []browser.Step{
		browser.Label("Settings", false),
		browser.Text("Settings", false),
		browser.Role("button", "settings"),
	},
}

// ratioText maps the request vocabulary onto the labels the panel renders.
func ratioText(aspect entity.AspectRatio) string {
	if aspect == entity.AspectPortrait {
		return "9:16"
	}

	return "16:9"
}

// Apply configures aspect ratio and output count in one panel visit.
func (s *Settings) Apply(ctx context.Context, page playwright.Page, req *entity.VideoGenerationRequest, report entity.ProgressFunc) (err error) {
	const op = "Apply"
	logger := s.deps.logger.With(
		zap.String(logg.Layer, settingsName),
		zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, s.deps.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	if !s.openPanel(page, logger) {
		report("Settings panel unavailable, keeping site defaults")

		return nil
	}

	defer s.closePanel(page, logger)

	// Frames mode locks the ratio to the one set before upload, so only
	// text mode touches it here.
	if req.Mode == entity.ModeTextToVideo {
		report("Setting aspect ratio")
		s.applyRatioLocked(page, req.AspectRatio, logger)
	}

	report("Setting output count")
	s.applyOutputCount(page, req.OutputsCount, logger)

	return nil
}

// ApplyAspectRatio opens the panel just to set the ratio. The uploader
// calls this before the first frame goes in, because the crop dialog reads
// the ratio at upload time.
func (s *Settings) ApplyAspectRatio(ctx context.Context, page playwright.Page, aspect entity.AspectRatio) {
	const op = "ApplyAspectRatio"
	logger := s.deps.logger.With(
		zap.String(logg.Layer, settingsName),
		zap.String(logg.Operation, op))

	if !s.openPanel(page, logger) {
		return
	}

	defer s.closePanel(page, logger)

	s.applyRatioLocked(page, aspect, logger)
}

func (s *Settings) openPanel(page playwright.Page, logger *zap.Logger) bool {
	el, err := s.deps.resolver.WaitResolve(page, settingsPanelTarget, settingsWait)
	if err != nil {
		logger.Info("Settings control not found, keeping defaults")

		return false
	}

	if err := s.deps.sim.Click(page, el); err != nil {
		logger.Warn("Settings control click failed", zap.Error(err))

		return false
	}

	s.deps.sim.Pause(400, 900)

	return true
}

func (s *Settings) closePanel(page playwright.Page, logger *zap.Logger) {
	if err := page.Keyboard().Press("Escape"); err != nil {
		logger.Debug("Settings panel dismiss failed", zap.Error(err))
	}

	s.deps.sim.Pause(300, 700)
}

var aspectDropdownTarget = browser.Target{
	Name: "aspect ratio dropdown",
	Steps: []browser.Step{
		browser.Label("Aspect ratio", false),
		browser.Role("combobox", "aspect"),
		browser.Text("16:9", false),
	},
}

var outputCountDropdownTarget = browser.Target{
	Name: "output count dropdown",
	Steps: []browser.Step{
		browser.Label("Outputs per prompt", false),
		browser.Label("Outputs", false),
		browser.Role("combobox", "outputs"),
	},
}

func (s *Settings) applyRatioLocked(page playwright.Page, aspect entity.AspectRatio, logger *zap.Logger) {
	want := ratioText(aspect)

	s.pickOption(page, aspectDropdownTarget, want, logger)
}

// applyOutputCount matches the bare numeral exactly; containment would
// also hit "1" inside "16:9".
func (s *Settings) applyOutputCount(page playwright.Page, count int, logger *zap.Logger) {
	s.pickOption(page, outputCountDropdownTarget, strconv.Itoa(count), logger)
}

// pickOption opens a dropdown and selects the entry whose text matches
// exactly. A miss at either step dismisses the dropdown and keeps the
// site default.
func (s *Settings) pickOption(page playwright.Page, dropdown browser.Target, want string, logger *zap.Logger) {
	el, err := s.deps.resolver.WaitResolve(page, dropdown, settingsWait)
	if err != nil {
		logger.Info("Dropdown not found, keeping default",
			zap.String(logg.Target, dropdown.Name))

		return
	}

	if err := s.deps.sim.Click(page, el); err != nil {
		logger.Warn("Dropdown click failed",
			zap.String(logg.Target, dropdown.Name), zap.Error(err))

		return
	}

	s.deps.sim.Pause(300, 700)

	if !clickMenuEntry(s.deps, page, want, logger) {
		logger.Info("Option not found, keeping default",
			zap.String(logg.Target, dropdown.Name), zap.String("option", want))
		dismissMenu(s.deps, page, logger)

		return
	}

	logger.Info("Setting applied",
		zap.String(logg.Target, dropdown.Name), zap.String("option", want))
}
