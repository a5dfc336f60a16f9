package browser

import (
	"strings"
	"time"

	"flow-agent/pkg/apperr"
	"flow-agent/pkg/logg"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// A Step is one rule for finding a UI element. Steps are tried in the
// order they are declared on a Target, so the matching policy is data
// rather than inline control flow.
type Strategy string

const (
	ByVisibleText Strategy = "visible_text"
	ByLabel       Strategy = "label"
	ByRole        Strategy = "role"
	ByPosition    Strategy = "position"
)

type Step struct {
	Strategy Strategy
	Text     string
	Exact    bool
	Role     string
	Selector string
	Index    int
}

type Target struct {
	Name  string
	Steps []Step
}

func Text(text string, exact bool) Step {
	return Step{Strategy: ByVisibleText, Text: text, Exact: exact}
}

func Label(label string, exact bool) Step {
	return Step{Strategy: ByLabel, Text: label, Exact: exact}
}

func Role(role, name string) Step {
	return Step{Strategy: ByRole, Role: role, Text: name}
}

func Position(selector string, index int) Step {
	return Step{Strategy: ByPosition, Selector: selector, Index: index}
}

// clickableSelector bounds the candidate set for text matching.
const clickableSelector = "button, [role='button'], a[href], [role='menuitem'], [role='option'], [role='tab'], [role='link'], li"

type Resolver struct {
	logger *zap.Logger
}

func NewResolver(logger *zap.Logger) *Resolver {
	return &Resolver{
		logger: logger.With(zap.String(logg.Layer, "Locator")),
	}
}

// Resolve tries each step of the target in priority order and returns the
// first visible match. A full miss is an element-not-found error, which
// callers treat as a loggable skip.
func (r *Resolver) Resolve(page playwright.Page, target Target) (playwright.ElementHandle, error) {
	const op = "Resolve"

	for _, step := range target.Steps {
		el := r.resolveStep(page, step)
		if el != nil {
			r.logger.Debug("target resolved",
				zap.String(logg.Target, target.Name),
				zap.String("strategy", string(step.Strategy)))

			return el, nil
		}
	}

	return nil, apperr.NotFoundError(op, target.Name)
}

// WaitResolve retries Resolve until the deadline, covering controls that
// render late.
func (r *Resolver) WaitResolve(page playwright.Page, target Target, timeout time.Duration) (playwright.ElementHandle, error) {
	deadline := time.Now().Add(timeout)

	for {
		el, err := r.Resolve(page, target)
		if err == nil {
			return el, nil
		}

		if time.Now().After(deadline) {
			return nil, err
		}

		time.Sleep(250 * time.Millisecond)
	}
}

func (r *Resolver) resolveStep(page playwright.Page, step Step) playwright.ElementHandle {
	switch step.Strategy {
	case ByVisibleText:
		return r.firstMatching(page, clickableSelector, func(el playwright.ElementHandle) bool {
			text, err := el.TextContent()
			if err != nil {
				return false
			}

			return matchText(text, step.Text, step.Exact)
		})
	case ByLabel:
		return r.firstMatching(page, "[aria-label]", func(el playwright.ElementHandle) bool {
			label, err := el.GetAttribute("aria-label")
			if err != nil {
				return false
			}

			return matchText(label, step.Text, step.Exact)
		})
	case ByRole:
		return r.firstMatching(page, "[role='"+step.Role+"']", func(el playwright.ElementHandle) bool {
			if step.Text == "" {
				return true
			}

			if label, err := el.GetAttribute("aria-label"); err == nil && matchText(label, step.Text, false) {
				return true
			}

			text, err := el.TextContent()

			return err == nil && matchText(text, step.Text, false)
		})
	case ByPosition:
		elements, err := page.QuerySelectorAll(step.Selector)
		if err != nil || step.Index >= len(elements) {
			return nil
		}

		return elements[step.Index]
	}

	return nil
}

func (r *Resolver) firstMatching(page playwright.Page, selector string, match func(playwright.ElementHandle) bool) playwright.ElementHandle {
	elements, err := page.QuerySelectorAll(selector)
	if err != nil {
		return nil
	}

	for _, el := range elements {
		visible, err := el.IsVisible()
		if err != nil || !visible {
			continue
		}

		if match(el) {
			return el
		}
	}

	return nil
}

// matchText compares whitespace-normalized, case-folded text.
func matchText(got, want string, exact bool) bool {
	g := normalizeText(got)
	w := normalizeText(want)

	if w == "" {
		return false
	}

	if exact {
		return g == w
	}

	return strings.Contains(g, w)
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
