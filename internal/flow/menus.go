package flow

import (
	"strings"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// clickMenuEntry searches rendered elements for an exact text match sized
// like a menu item and clicks it. Shared by every phase that picks entries
// out of freshly opened dropdowns.
func clickMenuEntry(deps phaseDeps, page playwright.Page, text string, logger *zap.Logger) bool {
	candidates, err := page.QuerySelectorAll("[role='option'], [role='menuitem'], li, span")
	if err != nil {
		return false
	}

	for _, el := range candidates {
		visible, err := el.IsVisible()
		if err != nil || !visible {
			continue
		}

		content, err := el.TextContent()
		if err != nil || strings.TrimSpace(content) != text {
			continue
		}

		box, err := el.BoundingBox()
		if err != nil || box == nil || !menuItemSized(box.Height) {
			continue
		}

		if err := deps.sim.Click(page, el); err != nil {
			logger.Warn("Menu entry click failed", zap.Error(err))

			return false
		}

		deps.sim.Pause(300, 700)

		return true
	}

	return false
}

func menuItemSized(height float64) bool {
	return height >= 16 && height <= 80
}

// dismissMenu drops whatever dropdown or dialog is currently open.
func dismissMenu(deps phaseDeps, page playwright.Page, logger *zap.Logger) {
	if err := page.Keyboard().Press("Escape"); err != nil {
		logger.Debug("Menu dismiss failed", zap.Error(err))
	}

	deps.sim.Pause(200, 500)
}
