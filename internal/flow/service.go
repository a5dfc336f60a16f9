package flow

import (
	"context"

	"flow-agent/internal/browser"
	"flow-agent/internal/config"
	"flow-agent/internal/entity"
	"flow-agent/internal/ports"
	"flow-agent/pkg/apperr"
	"flow-agent/pkg/logg"
	"flow-agent/pkg/tracing"

	"github.com/playwright-community/playwright-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	serviceName   = "VideoGenerationService"
	serviceTracer = "flow.service"
)

// phaseDeps is the shared toolkit every phase works with. It is built per
// request because the simulator's rng is not safe for concurrent use.
type phaseDeps struct {
	config   *config.Config
	logger   *zap.Logger
	tracer   trace.Tracer
	resolver *browser.Resolver
	sim      *browser.Simulator
}

// Service runs the whole generation pipeline against one page. It is the
// only implementation of the video generator port.
type Service struct {
	config   *config.Config
	logger   *zap.Logger
	tracer   trace.Tracer
	sessions ports.SessionManager
}

type Params struct {
	fx.In

	Config   *config.Config
	Logger   *zap.Logger
	Sessions ports.SessionManager
}

func NewService(params Params) *Service {
	return &Service{
		config:   params.Config,
		logger:   params.Logger.With(zap.String(logg.Layer, serviceName)),
		tracer:   otel.Tracer(serviceTracer),
		sessions: params.Sessions,
	}
}

// Generate drives a single request end to end. It never returns an error:
// every failure is folded into the result so callers get exactly one
// terminal answer per request.
func (s *Service) Generate(ctx context.Context, req *entity.VideoGenerationRequest, report entity.ProgressFunc) *entity.VideoGenerationResult {
	const op = "Generate"

	if report == nil {
		report = func(string) {}
	}

	gen := entity.NewGeneration(req)

	logger := s.logger.With(
		zap.String(logg.Operation, op),
		zap.String(logg.RequestID, gen.ID.String()))

	var err error

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op,
		attribute.String("request_id", gen.ID.String()),
		attribute.String("mode", string(req.Mode)))
	defer func() {
		step.End(err)
	}()

	result := s.run(ctx, logger, step, req, report)
	gen.Finish(result)

	if !result.Success {
		err = apperr.WrapErrorWithReason(op, apperr.CodeNoResults, result.Error)
	}

	logger.Info("Generation finished",
		zap.String(logg.Status, string(gen.Status)),
		zap.Int("videos", len(result.VideoURLs)))

	return result
}

func (s *Service) run(ctx context.Context, logger *zap.Logger, step *tracing.Span, req *entity.VideoGenerationRequest, report entity.ProgressFunc) *entity.VideoGenerationResult {
	if err := req.Normalize(); err != nil {
		return entity.FailureResult(err.Error())
	}

	report("Acquiring browser session")

	info, err := s.sessions.Acquire(ctx)
	if err != nil {
		logger.Error("Session acquisition failed", zap.Error(err))

		return entity.FailureResult("browser session could not be started")
	}

	step.AddEvent("session acquired", attribute.String("mode", string(info.Mode)))

	page, err := s.sessions.NewPage(ctx)
	if err != nil {
		logger.Error("Page creation failed", zap.Error(err))

		return entity.FailureResult("browser page could not be opened")
	}

	// The tab is request-scoped; the session behind it is not.
	defer func() {
		if err := page.Close(); err != nil {
			logger.Warn("Page close failed", zap.Error(err))
		}
	}()

	deps := phaseDeps{
		config:   s.config,
		logger:   logger,
		tracer:   s.tracer,
		resolver: browser.NewResolver(logger),
		sim:      browser.NewSimulator(logger),
	}

	return s.runPhases(ctx, deps, page, req, report)
}

func (s *Service) runPhases(ctx context.Context, deps phaseDeps, page playwright.Page, req *entity.VideoGenerationRequest, report entity.ProgressFunc) *entity.VideoGenerationResult {
	navigator, err := newNavigator(deps)
	if err != nil {
		deps.logger.Error("Navigator setup failed", zap.Error(err))

		return entity.FailureResult("navigation setup failed")
	}

	report("Navigating to a fresh project")

	if err := navigator.Run(ctx, page); err != nil {
		deps.logger.Error("Navigation failed", zap.Error(err))

		return entity.FailureResult("could not reach a ready project")
	}

	settings := newSettings(deps)

	if req.Mode == entity.ModeFramesToVideo {
		uploader := newUploader(deps, settings)

		if err := uploader.Run(ctx, page, req, report); err != nil {
			deps.logger.Error("Frame upload failed", zap.Error(err))

			return entity.FailureResult("frame upload failed")
		}
	}

	report("Applying generation settings")

	if err := settings.Apply(ctx, page, req, report); err != nil {
		deps.logger.Warn("Settings degraded, continuing with defaults", zap.Error(err))
	}

	submitter := newSubmitter(deps)

	if err := submitter.Run(ctx, page, req.Prompt, report); err != nil {
		if fatalSubmitError(err) {
			deps.logger.Error("Prompt submission failed", zap.Error(err))

			return entity.FailureResult("prompt could not be submitted")
		}

		// Downstream of a ready page a missing or unresponsive control is
		// a skip; an unacknowledged submission surfaces as no results
		// after the poll ceiling.
		deps.logger.Warn("Prompt submission unconfirmed, polling for results anyway", zap.Error(err))
		report("Submission unconfirmed, waiting for results anyway")
	}

	report("Waiting for generation results")

	probe, err := newPageProbe(deps, page)
	if err != nil {
		deps.logger.Error("Probe setup failed", zap.Error(err))

		return entity.FailureResult("result polling setup failed")
	}

	poller := newPoller(deps, req.OutputsCount)

	result, err := poller.Run(ctx, probe, report)
	if err != nil {
		deps.logger.Error("Polling failed", zap.Error(err))

		return entity.FailureResult("result polling failed")
	}

	return result
}
