package media

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"

	"github.com/disintegration/imaging"

	// webp decoding for image.Decode
	_ "golang.org/x/image/webp"
)

// JPEG qualities and edge lengths tried by Optimize, largest first.
var (
	qualitySteps = []int{MaxQuality, 75, 65, 55, 45, 35}
	edgeSteps    = []int{MaxDimension, 1600, 1200, 1000, 800}
)

// Optimize resizes and compresses an image to fit MaxDimension and MaxBytes.
// Images already within limits are returned untouched.
func Optimize(data []byte) (*ImageData, error) {
	mimeType := DetectMIME(data)
	if !IsSupported(mimeType) {
		return nil, fmt.Errorf("unsupported image type: %s", mimeType)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() <= MaxDimension && b.Dy() <= MaxDimension && len(data) <= MaxBytes {
		return &ImageData{Data: data, MimeType: mimeType, Width: b.Dx(), Height: b.Dy()}, nil
	}
	return shrink(img, format)
}

// shrink walks edge lengths then JPEG qualities until the encoding fits.
// Lossless formats get one encoding per edge length.
func shrink(img image.Image, format string) (*ImageData, error) {
	longest := max(img.Bounds().Dx(), img.Bounds().Dy())

	var best *ImageData
	for _, edge := range edgeSteps {
		if edge > longest && best != nil {
			continue
		}
		resized := img
		if longest > edge {
			resized = imaging.Fit(img, edge, edge, imaging.Lanczos)
		}

		qualities := qualitySteps
		if format == "png" || format == "gif" {
			qualities = qualitySteps[:1]
		}
		for _, q := range qualities {
			data, mimeType, err := encode(resized, format, q)
			if err != nil {
				continue
			}
			cand := &ImageData{
				Data:     data,
				MimeType: mimeType,
				Width:    resized.Bounds().Dx(),
				Height:   resized.Bounds().Dy(),
			}
			if len(data) <= MaxBytes {
				return cand, nil
			}
			if best == nil || len(data) < len(best.Data) {
				best = cand
			}
		}
	}

	if best == nil {
		return nil, fmt.Errorf("failed to optimize image")
	}
	return nil, fmt.Errorf("image could not be reduced below %dMB (got %.2fMB)",
		MaxBytes/(1024*1024), float64(len(best.Data))/(1024*1024))
}

// encode writes img in its source format where Go can encode it, JPEG otherwise.
func encode(img image.Image, format string, quality int) ([]byte, string, error) {
	var buf bytes.Buffer
	switch format {
	case "png":
		err := png.Encode(&buf, img)
		return buf.Bytes(), "image/png", err
	case "gif":
		err := gif.Encode(&buf, img, nil)
		return buf.Bytes(), "image/gif", err
	default:
		err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
		return buf.Bytes(), "image/jpeg", err
	}
}

// ReadImageFile loads an outbound image from disk without re-encoding.
// Used for tool-result uploads, where Discord takes the original bytes.
func ReadImageFile(path string) (*ImageData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	mimeType := DetectMIME(data)
	if !IsSupported(mimeType) {
		return nil, fmt.Errorf("unsupported image type: %s", mimeType)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return &ImageData{Data: data, MimeType: mimeType, Width: cfg.Width, Height: cfg.Height}, nil
}
