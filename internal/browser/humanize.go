package browser

import (
	"math/rand"
	"time"
	"unicode"

	"flow-agent/pkg/logg"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

const (
	simulatorName = "InteractionSimulator"

	minMoveSteps = 5
	maxMoveSteps = 15

	scrollChance = 0.25
	idleChance   = 0.2
)

// Simulator produces human-paced pointer and keyboard activity. One
// instance per request; the rng is not safe for concurrent use.
type Simulator struct {
	logger *zap.Logger
	rng    *rand.Rand
}

func NewSimulator(logger *zap.Logger) *Simulator {
	return &Simulator{
		logger: logger.With(zap.String(logg.Layer, simulatorName)),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Move walks the pointer to a point along a multi-step path rather than
// teleporting it.
func (s *Simulator) Move(page playwright.Page, x, y float64) error {
	return page.Mouse().Move(x, y, playwright.MouseMoveOptions{
		Steps: playwright.Int(moveSteps(s.rng)),
	})
}

// Click moves the pointer to a random interior point of the element
// before dispatching the click. Elements without a resolvable bounding
// box get a direct click instead.
func (s *Simulator) Click(page playwright.Page, el playwright.ElementHandle) error {
	box, err := el.BoundingBox()
	if err != nil || box == nil || box.Width <= 0 || box.Height <= 0 {
		s.logger.Debug("no bounding box, falling back to direct click")

		return el.Click()
	}

	x, y := pointWithin(s.rng, box.X, box.Y, box.Width, box.Height)

	if err := s.Move(page, x, y); err != nil {
		return el.Click()
	}

	s.Pause(120, 420)

	return page.Mouse().Click(x, y)
}

// Type focuses the element and emits one keystroke per character, with
// inter-keystroke delay keyed by character class so the timing has no
// uniform fingerprint.
func (s *Simulator) Type(page playwright.Page, el playwright.ElementHandle, text string) error {
	if err := el.Focus(); err != nil {
		if err := el.Click(); err != nil {
			return err
		}
	}

	for _, r := range text {
		if err := page.Keyboard().Type(string(r)); err != nil {
			return err
		}

		time.Sleep(s.keyDelay(r))
	}

	return nil
}

// Scroll fires probabilistically to interleave incidental wheel motion
// between deterministic actions.
func (s *Simulator) Scroll(page playwright.Page) {
	if s.rng.Float64() > scrollChance {
		return
	}

	delta := float64(s.intBetween(80, 360))
	if s.rng.Float64() < 0.35 {
		delta = -delta
	}

	if err := page.Mouse().Wheel(0, delta); err != nil {
		s.logger.Debug("incidental scroll failed", zap.Error(err))
	}

	s.Pause(150, 500)
}

// Idle drifts the pointer a short distance, also probabilistically.
func (s *Simulator) Idle(page playwright.Page) {
	if s.rng.Float64() > idleChance {
		return
	}

	x := float64(s.intBetween(200, 1100))
	y := float64(s.intBetween(150, 700))

	if err := s.Move(page, x, y); err != nil {
		s.logger.Debug("idle motion failed", zap.Error(err))
	}
}

// Pause sleeps for a bounded random interval in milliseconds.
func (s *Simulator) Pause(minMs, maxMs int) {
	time.Sleep(time.Duration(s.intBetween(minMs, maxMs)) * time.Millisecond)
}

func (s *Simulator) keyDelay(r rune) time.Duration {
	minD, maxD := keyDelayBounds(r)

	return minD + time.Duration(s.rng.Int63n(int64(maxD-minD)))
}

func (s *Simulator) intBetween(min, max int) int {
	return min + s.rng.Intn(max-min+1)
}

// keyDelayBounds returns the delay interval for a character class:
// punctuation pauses longest, space gets a medium pause, everything else
// the shortest.
func keyDelayBounds(r rune) (time.Duration, time.Duration) {
	switch {
	case unicode.IsPunct(r) || unicode.IsSymbol(r):
		return 150 * time.Millisecond, 350 * time.Millisecond
	case r == ' ':
		return 80 * time.Millisecond, 200 * time.Millisecond
	default:
		return 35 * time.Millisecond, 110 * time.Millisecond
	}
}

// pointWithin picks a click point away from the element edges.
func pointWithin(rng *rand.Rand, x, y, width, height float64) (float64, float64) {
	px := x + width*(0.2+0.6*rng.Float64())
	py := y + height*(0.2+0.6*rng.Float64())

	return px, py
}

func moveSteps(rng *rand.Rand) int {
	return minMoveSteps + rng.Intn(maxMoveSteps-minMoveSteps+1)
}
