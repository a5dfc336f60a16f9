package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchTextContainment(t *testing.T) {
	assert.True(t, matchText("  New   Project ", "new project", false))
	assert.True(t, matchText("Create a New Project now", "new project", false))
	assert.False(t, matchText("Open project", "new project", false))
}

func TestMatchTextExact(t *testing.T) {
	assert.True(t, matchText(" 16:9 ", "16:9", true))
	assert.False(t, matchText("16:9 widescreen", "16:9", true))

	// Exact matching still folds case and whitespace.
	assert.True(t, matchText("NEW  PROJECT", "new project", true))
}

func TestMatchTextEmptyWantNeverMatches(t *testing.T) {
	assert.False(t, matchText("anything", "", false))
	assert.False(t, matchText("", "", true))
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "a b c", normalizeText("  A \n B\tC "))
	assert.Equal(t, "", normalizeText("   "))
}

func TestTargetConstructors(t *testing.T) {
	step := Text("Generate", true)
	assert.Equal(t, ByVisibleText, step.Strategy)
	assert.True(t, step.Exact)

	step = Label("Settings", false)
	assert.Equal(t, ByLabel, step.Strategy)

	step = Role("button", "generate")
	assert.Equal(t, ByRole, step.Strategy)
	assert.Equal(t, "button", step.Role)

	step = Position("li", 1)
	assert.Equal(t, ByPosition, step.Strategy)
	assert.Equal(t, 1, step.Index)
}
