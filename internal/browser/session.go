package browser

import (
	"context"
	"os"
	"sync"

	"flow-agent/internal/config"
	"flow-agent/internal/entity"
	"flow-agent/pkg/apperr"
	"flow-agent/pkg/logg"
	"flow-agent/pkg/tracing"

	"github.com/playwright-community/playwright-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	sessionManagerName = "SessionManager"
	sessionTracer      = "browser.session"
)

var launchArgs = []string{
	"--disable-blink-features=AutomationControlled",
	"--disable-dev-shm-usage",
	"--no-sandbox",
	"--window-size=1920,1080",
	"--disable-features=IsolateOrigins,site-per-process",
	"--no-first-run",
	"--disable-infobars",
}

const stationaryUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// session is the process-wide browser handle: one long-lived context whose
// cookie/profile state is reused across requests.
type session struct {
	info    entity.SessionInfo
	browser playwright.Browser
	context playwright.BrowserContext

	mu   sync.Mutex
	dead bool
}

func (s *session) markDead() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dead = true
}

func (s *session) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dead {
		return false
	}

	if s.browser != nil {
		return s.browser.IsConnected()
	}

	return true
}

// Manager owns the singleton session. Acquire is idempotent while the
// browser stays connected; a failed liveness probe makes the next call
// rebuild the session from scratch.
type Manager struct {
	config *config.Config
	logger *zap.Logger
	tracer trace.Tracer

	mu      sync.Mutex
	pw      *playwright.Playwright
	session *session
}

type Params struct {
	fx.In

	Config *config.Config
	Logger *zap.Logger
}

func NewManager(params Params) *Manager {
	return &Manager{
		config: params.Config,
		logger: params.Logger.With(zap.String(logg.Layer, sessionManagerName)),
		tracer: otel.Tracer(sessionTracer),
	}
}

func (m *Manager) Acquire(ctx context.Context) (info entity.SessionInfo, err error) {
	const op = "Acquire"
	logger := m.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, m.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.acquireLocked(ctx, logger, step)
	if err != nil {
		return entity.SessionInfo{}, err
	}

	return sess.info, nil
}

func (m *Manager) acquireLocked(ctx context.Context, logger *zap.Logger, step *tracing.Span) (*session, error) {
	const op = "acquireLocked"

	if m.session != nil && m.session.live() {
		step.AddEvent("reusing live session")

		return m.session, nil
	}

	if m.session != nil {
		logger.Info("Cached session failed liveness probe, recreating")
		m.session = nil
	}

	if err := m.ensureDriver(); err != nil {
		return nil, apperr.Wrap(op, apperr.CodeLaunchFailed, err, map[string]any{
			apperr.MetaReason: "playwright_start_failed",
			apperr.MetaStage:  apperr.StageSession,
		})
	}

	if !m.config.BrowserConfig.Headless {
		if sess, err := m.attach(ctx, logger); err == nil {
			m.session = sess
			step.AddEvent("attached to running browser")

			return sess, nil
		} else {
			logger.Info("No running browser to attach to, launching", zap.Error(err))
		}
	}

	sess, err := m.launchPersistent(ctx, logger)
	if err != nil {
		return nil, err
	}

	m.session = sess
	step.AddEvent("launched persistent browser")

	return sess, nil
}

func (m *Manager) ensureDriver() error {
	if m.pw != nil {
		return nil
	}

	if err := playwright.Install(); err != nil {
		return err
	}

	pw, err := playwright.Run()
	if err != nil {
		return err
	}

	m.pw = pw

	return nil
}

// attach connects to an already-running browser over its remote debugging
// endpoint and reuses an existing browsing context when one exists.
func (m *Manager) attach(ctx context.Context, logger *zap.Logger) (*session, error) {
	const op = "attach"

	browser, err := m.pw.Chromium.ConnectOverCDP(m.config.BrowserConfig.DebugURL)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeUnavailable, err, map[string]any{
			apperr.MetaReason: "cdp_connect_failed",
			apperr.MetaStage:  apperr.StageSession,
			apperr.MetaURL:    m.config.BrowserConfig.DebugURL,
		})
	}

	var browserContext playwright.BrowserContext

	contexts := browser.Contexts()
	if len(contexts) > 0 {
		browserContext = contexts[0]
		logger.Info("Reusing existing browsing context")
	} else {
		browserContext, err = browser.NewContext()
		if err != nil {
			return nil, apperr.Wrap(op, apperr.CodeLaunchFailed, err, map[string]any{
				apperr.MetaReason: "context_create_failed",
				apperr.MetaStage:  apperr.StageSession,
			})
		}

		logger.Info("Created browsing context on attached browser")
	}

	sess := &session{
		info:    entity.SessionInfo{Mode: entity.SessionAttached},
		browser: browser,
		context: browserContext,
	}

	if err := InstallStealth(browserContext); err != nil {
		logger.Warn("Failed to install stealth profile", zap.Error(err))
	}

	browser.OnDisconnected(func(playwright.Browser) {
		sess.markDead()
	})
	browserContext.OnClose(func(playwright.BrowserContext) {
		sess.markDead()
	})

	return sess, nil
}

// launchPersistent starts a new browser process bound to the disk-backed
// profile directory so authentication state survives restarts.
func (m *Manager) launchPersistent(ctx context.Context, logger *zap.Logger) (*session, error) {
	const op = "launchPersistent"

	userDataDir := m.config.BrowserConfig.UserDataDir

	if err := os.MkdirAll(userDataDir, 0755); err != nil {
		return nil, apperr.Wrap(op, apperr.CodeLaunchFailed, err, map[string]any{
			apperr.MetaReason: "mkdir_failed",
			apperr.MetaStage:  apperr.StageSession,
		})
	}

	options := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:          playwright.Bool(m.config.BrowserConfig.Headless),
		SlowMo:            playwright.Float(float64(m.config.BrowserConfig.SlowMo)),
		Viewport:          &playwright.Size{Width: 1920, Height: 1080},
		UserAgent:         playwright.String(stationaryUserAgent),
		AcceptDownloads:   playwright.Bool(true),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            playwright.String("en-US"),
		TimezoneId:        playwright.String("America/Los_Angeles"),
		Args:              launchArgs,
		IgnoreHttpsErrors: playwright.Bool(true),
	}

	browserContext, err := m.pw.Chromium.LaunchPersistentContext(userDataDir, options)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeLaunchFailed, err, map[string]any{
			apperr.MetaReason: "launch_persistent_failed",
			apperr.MetaStage:  apperr.StageSession,
		})
	}

	sess := &session{
		info: entity.SessionInfo{
			Mode:        entity.SessionLaunched,
			UserDataDir: userDataDir,
		},
		context: browserContext,
	}

	if err := InstallStealth(browserContext); err != nil {
		logger.Warn("Failed to install stealth profile", zap.Error(err))
	}

	browserContext.OnClose(func(playwright.BrowserContext) {
		sess.markDead()
	})

	logger.Info("Persistent browser launched", zap.String("user_data_dir", userDataDir))

	return sess, nil
}

// NewPage opens an isolated tab for one request. A failure invalidates the
// cached session and retries once against a fresh one.
func (m *Manager) NewPage(ctx context.Context) (page playwright.Page, err error) {
	const op = "NewPage"
	logger := m.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, m.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		sess, err := m.acquireLocked(ctx, logger, step)
		if err != nil {
			return nil, err
		}

		page, err := sess.context.NewPage()
		if err == nil {
			return page, nil
		}

		logger.Warn("Page creation failed, invalidating session", zap.Error(err))
		sess.markDead()
	}

	return nil, apperr.WrapErrorWithReason(op, apperr.CodeLaunchFailed, "page_create_failed")
}

// Probe checks whether a browser is reachable on the debugging endpoint by
// attempting and immediately releasing an attachment. Diagnostics only.
func (m *Manager) Probe(ctx context.Context) bool {
	const op = "Probe"
	logger := m.logger.With(zap.String(logg.Operation, op))

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil && m.session.live() {
		return true
	}

	if err := m.ensureDriver(); err != nil {
		logger.Warn("Driver unavailable", zap.Error(err))

		return false
	}

	browser, err := m.pw.Chromium.ConnectOverCDP(m.config.BrowserConfig.DebugURL)
	if err != nil {
		return false
	}

	if err := browser.Close(); err != nil {
		logger.Debug("Probe disconnect failed", zap.Error(err))
	}

	return true
}

// Close tears the session down at process shutdown. Request completion
// never calls this; the session outlives individual requests by design.
func (m *Manager) Close(ctx context.Context) (err error) {
	const op = "Close"
	logger := m.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, m.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		switch m.session.info.Mode {
		case entity.SessionAttached:
			logger.Info("Detaching from external browser, leaving it running")

			if m.session.browser != nil {
				if err := m.session.browser.Close(); err != nil {
					logger.Warn("Failed to disconnect browser", zap.Error(err))
				}
			}
		case entity.SessionLaunched:
			logger.Info("Closing launched browser")

			if err := m.session.context.Close(); err != nil {
				logger.Warn("Failed to close context", zap.Error(err))
			}
		}

		m.session = nil
	}

	if m.pw != nil {
		if err := m.pw.Stop(); err != nil {
			return apperr.WrapWithReason(op, apperr.CodeInternal, err, "playwright_stop_failed")
		}

		m.pw = nil
	}

	return nil
}
