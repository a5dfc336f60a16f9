package flow

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"flow-agent/internal/entity"
	"flow-agent/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodedImage(t *testing.T, width, height int, format string) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), A: 255})
		}
	}

	var buf bytes.Buffer

	switch format {
	case "png":
		require.NoError(t, png.Encode(&buf, img))
	case "jpeg":
		require.NoError(t, jpeg.Encode(&buf, img, nil))
	default:
		t.Fatalf("unsupported test format %q", format)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestDecodeFramePayloadPNG(t *testing.T) {
	payload := &entity.FramePayload{
		MediaType: "image/png",
		Data:      encodedImage(t, 320, 180, "png"),
	}

	asset, err := decodeFramePayload(payload)
	require.NoError(t, err)

	assert.Equal(t, ".png", asset.ext)
	assert.Equal(t, 320, asset.width)
	assert.Equal(t, 180, asset.height)
	assert.Equal(t, entity.AspectLandscape, asset.orientation)
}

func TestDecodeFramePayloadPortraitOrientation(t *testing.T) {
	payload := &entity.FramePayload{
		MediaType: "image/jpeg",
		Data:      encodedImage(t, 180, 320, "jpeg"),
	}

	asset, err := decodeFramePayload(payload)
	require.NoError(t, err)

	assert.Equal(t, entity.AspectPortrait, asset.orientation)
}

func TestDecodeFramePayloadJpgAlias(t *testing.T) {
	payload := &entity.FramePayload{
		MediaType: "image/jpg",
		Data:      encodedImage(t, 64, 64, "jpeg"),
	}

	asset, err := decodeFramePayload(payload)
	require.NoError(t, err)
	assert.Equal(t, ".jpeg", asset.ext)
}

func TestDecodeFramePayloadSquareIsLandscape(t *testing.T) {
	payload := &entity.FramePayload{
		MediaType: "image/png",
		Data:      encodedImage(t, 100, 100, "png"),
	}

	asset, err := decodeFramePayload(payload)
	require.NoError(t, err)
	assert.Equal(t, entity.AspectLandscape, asset.orientation)
}

func TestDecodeFramePayloadRejectsMismatchedMediaType(t *testing.T) {
	payload := &entity.FramePayload{
		MediaType: "image/png",
		Data:      encodedImage(t, 64, 64, "jpeg"),
	}

	_, err := decodeFramePayload(payload)
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidPayload))
}

func TestDecodeFramePayloadRejectsBadBase64(t *testing.T) {
	payload := &entity.FramePayload{
		MediaType: "image/png",
		Data:      "not-base64!!!",
	}

	_, err := decodeFramePayload(payload)
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidPayload))
}

func TestDecodeFramePayloadRejectsNonImageMediaType(t *testing.T) {
	payload := &entity.FramePayload{
		MediaType: "video/mp4",
		Data:      encodedImage(t, 64, 64, "png"),
	}

	_, err := decodeFramePayload(payload)
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidPayload))
}

func TestDecodeFramePayloadRejectsNil(t *testing.T) {
	_, err := decodeFramePayload(nil)
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidPayload))
}

func TestDecodeFramePayloadDownscalesOversized(t *testing.T) {
	payload := &entity.FramePayload{
		MediaType: "image/png",
		Data:      encodedImage(t, 3000, 1500, "png"),
	}

	asset, err := decodeFramePayload(payload)
	require.NoError(t, err)

	assert.LessOrEqual(t, asset.width, maxFrameEdge)
	assert.LessOrEqual(t, asset.height, maxFrameEdge)
	assert.Equal(t, entity.AspectLandscape, asset.orientation)
}

func TestFrameInputFileReadsTransientFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flow-frame-1.png")
	require.NoError(t, os.WriteFile(path, []byte{0x89, 0x50, 0x4e, 0x47}, 0644))

	file, err := frameInputFile(path, "image/png")
	require.NoError(t, err)

	assert.Equal(t, "flow-frame-1.png", file.Name)
	assert.Equal(t, "image/png", file.MimeType)
	assert.Equal(t, []byte{0x89, 0x50, 0x4e, 0x47}, file.Buffer)
}

func TestFrameInputFileMissingFile(t *testing.T) {
	_, err := frameInputFile(filepath.Join(t.TempDir(), "gone.png"), "image/png")
	require.Error(t, err)
}

func TestMenuItemSized(t *testing.T) {
	assert.True(t, menuItemSized(32))
	assert.False(t, menuItemSized(8))
	assert.False(t, menuItemSized(400))
}
