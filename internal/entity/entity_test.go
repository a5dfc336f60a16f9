package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFillsDefaults(t *testing.T) {
	req := &VideoGenerationRequest{Prompt: "a dog surfing"}

	require.NoError(t, req.Normalize())

	assert.Equal(t, ModeTextToVideo, req.Mode)
	assert.Equal(t, AspectLandscape, req.AspectRatio)
	assert.Equal(t, MinOutputs, req.OutputsCount)
}

func TestNormalizeRejectsEmptyPrompt(t *testing.T) {
	req := &VideoGenerationRequest{}

	assert.ErrorIs(t, req.Normalize(), ErrEmptyPrompt)
}

func TestNormalizeClampsOutputsCount(t *testing.T) {
	req := &VideoGenerationRequest{Prompt: "p", OutputsCount: 9}

	require.NoError(t, req.Normalize())
	assert.Equal(t, MaxOutputs, req.OutputsCount)
}

func TestNormalizeRejectsNegativeOutputsCount(t *testing.T) {
	req := &VideoGenerationRequest{Prompt: "p", OutputsCount: -1}

	assert.ErrorIs(t, req.Normalize(), ErrInvalidOutputs)
}

func TestNormalizeRejectsFramesInTextMode(t *testing.T) {
	req := &VideoGenerationRequest{
		Prompt:     "p",
		Mode:       ModeTextToVideo,
		StartFrame: &FramePayload{MediaType: "image/png", Data: "aGk="},
	}

	assert.ErrorIs(t, req.Normalize(), ErrFramesWithoutMode)
}

func TestNormalizeAllowsFramesInFramesMode(t *testing.T) {
	req := &VideoGenerationRequest{
		Prompt:     "p",
		Mode:       ModeFramesToVideo,
		StartFrame: &FramePayload{MediaType: "image/png", Data: "aGk="},
		EndFrame:   &FramePayload{MediaType: "image/png", Data: "aGk="},
	}

	require.NoError(t, req.Normalize())
	assert.True(t, req.HasFrames())
}

func TestGenerationFinish(t *testing.T) {
	gen := NewGeneration(&VideoGenerationRequest{Prompt: "p"})
	assert.Equal(t, GenerationInProgress, gen.Status)
	assert.NotEqual(t, "", gen.ID.String())

	gen.Finish(SuccessResult([]string{"https://v/1"}))
	assert.Equal(t, GenerationCompleted, gen.Status)
	require.NotNil(t, gen.CompletedAt)

	failed := NewGeneration(&VideoGenerationRequest{Prompt: "p"})
	failed.Finish(FailureResult("boom"))
	assert.Equal(t, GenerationFailed, failed.Status)
}

func TestFailureResultShape(t *testing.T) {
	res := FailureResult("no results")

	assert.False(t, res.Success)
	assert.NotNil(t, res.VideoURLs)
	assert.Empty(t, res.VideoURLs)
	assert.Equal(t, "no results", res.Error)
}
