package flow

import (
	"testing"

	"flow-agent/internal/entity"

	"github.com/stretchr/testify/assert"
)

func TestRatioText(t *testing.T) {
	assert.Equal(t, "16:9", ratioText(entity.AspectLandscape))
	assert.Equal(t, "9:16", ratioText(entity.AspectPortrait))

	// Unknown values fall back to the landscape default.
	assert.Equal(t, "16:9", ratioText(entity.AspectRatio("square")))
}
