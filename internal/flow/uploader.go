package flow

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"flow-agent/internal/browser"
	"flow-agent/internal/entity"
	"flow-agent/pkg/apperr"
	"flow-agent/pkg/logg"
	"flow-agent/pkg/tracing"

	"github.com/disintegration/imaging"
	"github.com/playwright-community/playwright-go"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	uploaderName = "AssetUploader"

	// Frames larger than this get downscaled before upload; the crop
	// dialog chokes on very large sources.
	maxFrameEdge = 2048

	cropDialogWait = 10 * time.Second
	assetWait      = 8 * time.Second
)

type frameAsset struct {
	data        []byte
	ext         string
	width       int
	height      int
	orientation entity.AspectRatio
}

// decodeFramePayload validates and materializes an embedded image
// payload. A malformed payload rejects only the frame it belongs to.
func decodeFramePayload(payload *entity.FramePayload) (*frameAsset, error) {
	const op = "decodeFramePayload"

	if payload == nil {
		return nil, apperr.WrapErrorWithReason(op, apperr.CodeInvalidPayload, "payload_missing")
	}

	declared := strings.TrimPrefix(strings.ToLower(payload.MediaType), "image/")
	if declared == payload.MediaType || declared == "" {
		return nil, apperr.WrapErrorWithReason(op, apperr.CodeInvalidPayload, "media_type_not_image")
	}

	if declared == "jpg" {
		declared = "jpeg"
	}

	raw, err := base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		return nil, apperr.WrapWithReason(op, apperr.CodeInvalidPayload, err, "base64_decode_failed")
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, apperr.WrapWithReason(op, apperr.CodeInvalidPayload, err, "image_decode_failed")
	}

	if format != declared {
		return nil, apperr.Wrap(op, apperr.CodeInvalidPayload,
			fmt.Errorf("declared %s but bytes are %s", declared, format),
			map[string]any{apperr.MetaReason: "media_type_mismatch"})
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	orientation := entity.AspectLandscape
	if height > width {
		orientation = entity.AspectPortrait
	}

	data := raw

	if width > maxFrameEdge || height > maxFrameEdge {
		resized := imaging.Fit(img, maxFrameEdge, maxFrameEdge, imaging.Lanczos)

		var buf bytes.Buffer

		imagingFormat, known := imagingFormatFor(format)
		if known {
			if err := imaging.Encode(&buf, resized, imagingFormat); err == nil {
				data = buf.Bytes()
				width, height = resized.Bounds().Dx(), resized.Bounds().Dy()
			}
		}
	}

	return &frameAsset{
		data:        data,
		ext:         "." + format,
		width:       width,
		height:      height,
		orientation: orientation,
	}, nil
}

func imagingFormatFor(format string) (imaging.Format, bool) {
	switch format {
	case "jpeg":
		return imaging.JPEG, true
	case "png":
		return imaging.PNG, true
	case "gif":
		return imaging.GIF, true
	default:
		return imaging.PNG, false
	}
}

type Uploader struct {
	deps     phaseDeps
	settings *Settings
}

func newUploader(deps phaseDeps, settings *Settings) *Uploader {
	return &Uploader{
		deps:     deps,
		settings: settings,
	}
}

var frameModeDropdownTarget = browser.Target{
	Name: "generation mode dropdown",
	Steps: []browser.Step{
		browser.Text("Text to Video", false),
		browser.Label("Generation mode", false),
		browser.Role("combobox", "mode"),
	},
}

var addAssetTarget = browser.Target{
	Name: "add asset control",
	Steps: []browser.Step{
		browser.Label("Add asset", false),
		browser.Text("Add asset", false),
		browser.Role("button", "upload"),
	},
}

var confirmCropTarget = browser.Target{
	Name: "confirm crop control",
	Steps: []browser.Step{
		browser.Text("Confirm crop", false),
		browser.Label("Confirm crop", false),
		browser.Text("Confirm", false),
	},
}

var orientationDropdownTarget = browser.Target{
	Name: "crop orientation dropdown",
	Steps: []browser.Step{
		browser.Label("Orientation", false),
		browser.Role("combobox", "orientation"),
		browser.Text("Landscape", false),
	},
}

// Run switches the project into frames mode and uploads the requested
// frames. Aspect ratio is configured before any upload because the crop
// dialog derives its orientation default from it at upload time; that
// ordering is a hard invariant.
func (u *Uploader) Run(ctx context.Context, page playwright.Page, req *entity.VideoGenerationRequest, report entity.ProgressFunc) (err error) {
	const op = "Run"
	logger := u.deps.logger.With(
		zap.String(logg.Layer, uploaderName),
		zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, u.deps.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	report("Switching to frames-to-video mode")
	u.switchToFramesMode(page, logger)

	report("Pre-configuring aspect ratio before frame upload")
	u.settings.ApplyAspectRatio(ctx, page, req.AspectRatio)

	frames := []struct {
		payload *entity.FramePayload
		slot    int
		label   string
	}{
		{req.StartFrame, 0, "start frame"},
		{req.EndFrame, 1, "end frame"},
	}

	for _, frame := range frames {
		if frame.payload == nil {
			continue
		}

		report(fmt.Sprintf("Uploading %s", frame.label))

		if err := u.uploadFrame(ctx, page, frame.payload, frame.slot, frame.label, req.AspectRatio); err != nil {
			if apperr.IsCode(err, apperr.CodeInvalidPayload) {
				logger.Warn("Frame payload invalid, skipping frame",
					zap.String(logg.Frame, frame.label), zap.Error(err))
				report(fmt.Sprintf("Skipped %s: invalid payload", frame.label))

				continue
			}

			logger.Warn("Frame upload degraded",
				zap.String(logg.Frame, frame.label), zap.Error(err))
		}
	}

	return nil
}

func (u *Uploader) switchToFramesMode(page playwright.Page, logger *zap.Logger) {
	el, err := u.deps.resolver.WaitResolve(page, frameModeDropdownTarget, assetWait)
	if err != nil {
		logger.Info("Mode dropdown not found, assuming frames mode is active")

		return
	}

	if err := u.deps.sim.Click(page, el); err != nil {
		logger.Warn("Mode dropdown click failed", zap.Error(err))

		return
	}

	u.deps.sim.Pause(300, 700)

	if !clickMenuEntry(u.deps, page, "Frames to Video", logger) {
		logger.Info("Frames mode entry not found in dropdown")
		dismissMenu(u.deps, page, logger)
	}

	u.deps.sim.Pause(400, 900)
}

func (u *Uploader) uploadFrame(ctx context.Context, page playwright.Page, payload *entity.FramePayload, slot int, label string, aspect entity.AspectRatio) (err error) {
	const op = "uploadFrame"
	logger := u.deps.logger.With(
		zap.String(logg.Layer, uploaderName),
		zap.String(logg.Operation, op),
		zap.String(logg.Frame, label))

	ctx, step := tracing.StartSpan(ctx, u.deps.tracer, logger, op,
		attribute.Int("slot", slot))
	defer func() {
		step.End(err)
	}()

	asset, err := decodeFramePayload(payload)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp("", "flow-frame-*"+asset.ext)
	if err != nil {
		return apperr.WrapWithReason(op, apperr.CodeInternal, err, "temp_file_failed")
	}

	tmpPath := tmp.Name()

	defer func() {
		if removeErr := os.Remove(tmpPath); removeErr != nil && !os.IsNotExist(removeErr) {
			logger.Warn("Transient frame file not removed", zap.Error(removeErr))
		}
	}()

	if _, err := tmp.Write(asset.data); err != nil {
		tmp.Close()

		return apperr.WrapWithReason(op, apperr.CodeInternal, err, "temp_write_failed")
	}

	if err := tmp.Close(); err != nil {
		return apperr.WrapWithReason(op, apperr.CodeInternal, err, "temp_close_failed")
	}

	step.AddEvent("payload decoded",
		attribute.Int("width", asset.width),
		attribute.Int("height", asset.height))

	// After the first frame only one slot remains, so the next control is
	// always the first visible one, not control[slot].
	addControl, err := u.deps.resolver.WaitResolve(page, addAssetTarget, assetWait)
	if err != nil {
		logger.Info("Add-asset control not found, skipping frame")

		return nil
	}

	if err := u.deps.sim.Click(page, addControl); err != nil {
		logger.Warn("Add-asset click failed", zap.Error(err))

		return nil
	}

	u.deps.sim.Pause(500, 1000)

	if !u.assignFile(page, tmpPath, payload.MediaType, logger) {
		return nil
	}

	u.resolveCropOrientation(page, aspect, logger)
	u.confirmCrop(page, logger)
	u.selectFromLibrary(page, label, logger)
	u.closeResidualDialog(page, logger)

	return nil
}

// frameInputFile loads the transient frame file into the shape the hidden
// file-selection control accepts.
func frameInputFile(path, mediaType string) (playwright.InputFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return playwright.InputFile{}, err
	}

	return playwright.InputFile{
		Name:     filepath.Base(path),
		MimeType: mediaType,
		Buffer:   data,
	}, nil
}

func (u *Uploader) assignFile(page playwright.Page, path, mediaType string, logger *zap.Logger) bool {
	file, err := frameInputFile(path, mediaType)
	if err != nil {
		logger.Warn("Transient frame file unreadable, skipping frame", zap.Error(err))

		return false
	}

	inputs, err := page.QuerySelectorAll("input[type='file']")
	if err != nil || len(inputs) == 0 {
		logger.Info("Hidden file input not found, skipping frame")

		return false
	}

	input := inputs[len(inputs)-1]

	if err := input.SetInputFiles([]playwright.InputFile{file}); err != nil {
		logger.Warn("File assignment failed", zap.Error(err))

		return false
	}

	u.deps.sim.Pause(800, 1600)

	return true
}

// resolveCropOrientation aligns the crop dialog with the request's aspect
// ratio. When the dialog already shows the target orientation nothing is
// touched.
func (u *Uploader) resolveCropOrientation(page playwright.Page, aspect entity.AspectRatio, logger *zap.Logger) {
	want := "Landscape"
	if aspect == entity.AspectPortrait {
		want = "Portrait"
	}

	dropdown, err := u.deps.resolver.WaitResolve(page, orientationDropdownTarget, cropDialogWait)
	if err != nil {
		logger.Info("Orientation dropdown not found, keeping dialog default")

		return
	}

	if current, err := dropdown.TextContent(); err == nil && strings.Contains(current, want) {
		logger.Debug("Crop orientation already matches", zap.String("orientation", want))

		return
	}

	if err := u.deps.sim.Click(page, dropdown); err != nil {
		logger.Warn("Orientation dropdown click failed", zap.Error(err))

		return
	}

	u.deps.sim.Pause(300, 700)

	if clickMenuEntry(u.deps, page, want, logger) {
		return
	}

	// Keyboard fallback when no rendered entry matched.
	logger.Info("Orientation entry not found, using keyboard navigation")

	if err := page.Keyboard().Press("ArrowDown"); err == nil {
		u.deps.sim.Pause(150, 400)
		_ = page.Keyboard().Press("Enter")
	}
}

func (u *Uploader) confirmCrop(page playwright.Page, logger *zap.Logger) {
	el, err := u.deps.resolver.WaitResolve(page, confirmCropTarget, cropDialogWait)
	if err != nil {
		logger.Info("Confirm-crop control not found, continuing")

		return
	}

	if err := u.deps.sim.Click(page, el); err != nil {
		logger.Warn("Confirm-crop click failed", zap.Error(err))

		return
	}

	u.deps.sim.Pause(700, 1400)
}

// selectFromLibrary picks the freshly uploaded asset out of the library
// grid. It lands at a fixed first position; the first cell is always the
// "upload new" affordance, so positional fallback takes the second cell.
func (u *Uploader) selectFromLibrary(page playwright.Page, label string, logger *zap.Logger) {
	target := browser.Target{
		Name: "uploaded asset",
		Steps: []browser.Step{
			browser.Label(label, false),
			browser.Position("[role='grid'] [role='gridcell'], [role='list'] [role='listitem']", 1),
		},
	}

	el, err := u.deps.resolver.WaitResolve(page, target, assetWait)
	if err != nil {
		logger.Info("Uploaded asset not found in library, continuing")

		return
	}

	if err := u.deps.sim.Click(page, el); err != nil {
		logger.Warn("Asset selection click failed", zap.Error(err))
	}

	u.deps.sim.Pause(400, 900)
}

func (u *Uploader) closeResidualDialog(page playwright.Page, logger *zap.Logger) {
	dialogs, err := page.QuerySelectorAll("[role='dialog']")
	if err != nil || len(dialogs) == 0 {
		return
	}

	logger.Debug("Closing residual dialog")

	if err := page.Keyboard().Press("Escape"); err != nil {
		logger.Debug("Residual dialog dismiss failed", zap.Error(err))
	}

	u.deps.sim.Pause(300, 700)
}
