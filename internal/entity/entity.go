package entity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type GenerationMode string

const (
	ModeTextToVideo   GenerationMode = "text-to-video"
	ModeFramesToVideo GenerationMode = "frames-to-video"
)

type AspectRatio string

const (
	AspectLandscape AspectRatio = "landscape"
	AspectPortrait  AspectRatio = "portrait"
)

const (
	MinOutputs = 1
	MaxOutputs = 4
)

// FramePayload is an embedded image: a media type plus base64-encoded bytes.
type FramePayload struct {
	MediaType string `json:"mediaType"`
	Data      string `json:"data"`
}

type VideoGenerationRequest struct {
	Prompt       string         `json:"prompt"`
	AspectRatio  AspectRatio    `json:"aspectRatio"`
	Mode         GenerationMode `json:"mode"`
	OutputsCount int            `json:"outputsCount"`
	StartFrame   *FramePayload  `json:"startFrame,omitempty"`
	EndFrame     *FramePayload  `json:"endFrame,omitempty"`
}

var (
	ErrEmptyPrompt       = errors.New("prompt cannot be empty")
	ErrInvalidOutputs    = errors.New("outputsCount must be at least 1")
	ErrFramesWithoutMode = errors.New("frame payloads require frames-to-video mode")
)

// Normalize fills defaults and clamps outputsCount to the supported range.
// Prompt presence is validated by the caller before the core is invoked,
// but it is re-checked here so the invariant holds for every entry path.
func (r *VideoGenerationRequest) Normalize() error {
	if r.Prompt == "" {
		return ErrEmptyPrompt
	}

	if r.Mode == "" {
		r.Mode = ModeTextToVideo
	}

	if r.AspectRatio == "" {
		r.AspectRatio = AspectLandscape
	}

	if r.OutputsCount == 0 {
		r.OutputsCount = MinOutputs
	}

	if r.OutputsCount < MinOutputs {
		return ErrInvalidOutputs
	}

	if r.OutputsCount > MaxOutputs {
		r.OutputsCount = MaxOutputs
	}

	if r.Mode != ModeFramesToVideo && (r.StartFrame != nil || r.EndFrame != nil) {
		return ErrFramesWithoutMode
	}

	return nil
}

func (r *VideoGenerationRequest) HasFrames() bool {
	return r.StartFrame != nil || r.EndFrame != nil
}

// VideoGenerationResult is terminal and immutable once returned.
type VideoGenerationResult struct {
	Success   bool     `json:"success"`
	VideoURLs []string `json:"videoUrls"`
	Error     string   `json:"error,omitempty"`
}

func SuccessResult(urls []string) *VideoGenerationResult {
	return &VideoGenerationResult{
		Success:   true,
		VideoURLs: urls,
	}
}

func FailureResult(message string) *VideoGenerationResult {
	return &VideoGenerationResult{
		Success:   false,
		VideoURLs: []string{},
		Error:     message,
	}
}

// PollState is the mutable per-request state threaded through the poll
// loop. VideoURLs only grows within a request.
type PollState struct {
	Elapsed       time.Duration
	VideoURLs     []string
	FailedCount   int
	StableCycles  int
	RetryAttempts int
}

// ProgressFunc receives human-readable status lines in call order.
type ProgressFunc func(status string)

type SessionMode string

const (
	SessionAttached SessionMode = "attached"
	SessionLaunched SessionMode = "launched"
)

type SessionInfo struct {
	Mode        SessionMode
	UserDataDir string
}

type GenerationStatus string

const (
	GenerationInProgress GenerationStatus = "in_progress"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

// Generation is the per-request record used for logging and the response
// envelope.
type Generation struct {
	ID          uuid.UUID
	Request     *VideoGenerationRequest
	Status      GenerationStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
	Result      *VideoGenerationResult
}

func NewGeneration(req *VideoGenerationRequest) *Generation {
	return &Generation{
		ID:        uuid.New(),
		Request:   req,
		Status:    GenerationInProgress,
		CreatedAt: time.Now(),
	}
}

func (g *Generation) Finish(result *VideoGenerationResult) {
	now := time.Now()
	g.CompletedAt = &now
	g.Result = result

	if result.Success {
		g.Status = GenerationCompleted
	} else {
		g.Status = GenerationFailed
	}
}
