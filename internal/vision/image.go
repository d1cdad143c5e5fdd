package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

const jpegQuality = 85

// facePadFraction widens face crops on each side before encoding; the
// encoder expects some margin around the detected box.
const facePadFraction = 0.1

// decodeImage decodes JPEG directly and falls back to the registered
// generic decoders (PNG, BMP) for anything else.
func decodeImage(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err == nil {
		return img, nil
	}
	img, _, err = image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// ScaleToWidth downscales an image so its width is at most maxWidth,
// keeping the aspect ratio, and re-encodes it as JPEG. Images that are
// already narrow enough are only re-encoded.
func ScaleToWidth(data []byte, maxWidth int) ([]byte, error) {
	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= maxWidth {
		return encodeJPEG(img, jpegQuality), nil
	}

	newHeight := int(float64(height) * float64(maxWidth) / float64(width))
	if newHeight < 1 {
		newHeight = 1
	}
	resized := image.NewRGBA(image.Rect(0, 0, maxWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	return encodeJPEG(resized, jpegQuality), nil
}

// toCHW resizes an image to targetW x targetH and converts it to CHW
// float32 layout, normalizing each channel as (pixel - mean) / std.
func toCHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Over, nil)

	plane := targetH * targetW
	data := make([]float32, 3*plane)

	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()

			// 16-bit to 8-bit
			rf := float32(r >> 8)
			gf := float32(g >> 8)
			bf := float32(b >> 8)

			idx := y*targetW + x
			data[idx] = (rf - mean[0]) / std[0]
			data[plane+idx] = (gf - mean[1]) / std[1]
			data[2*plane+idx] = (bf - mean[2]) / std[2]
		}
	}

	return data
}

// cropFace extracts a padded face region from the image. Returns nil
// when the box collapses to nothing inside the image bounds.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	bounds := img.Bounds()

	x1 := int(bbox[0])
	y1 := int(bbox[1])
	x2 := int(bbox[2])
	y2 := int(bbox[3])

	w := x2 - x1
	h := y2 - y1
	if w <= 0 || h <= 0 {
		return nil
	}

	x1 -= int(float32(w) * facePadFraction)
	y1 -= int(float32(h) * facePadFraction)
	x2 += int(float32(w) * facePadFraction)
	y2 += int(float32(h) * facePadFraction)

	if x1 < bounds.Min.X {
		x1 = bounds.Min.X
	}
	if y1 < bounds.Min.Y {
		y1 = bounds.Min.Y
	}
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}
	if x2-x1 <= 0 || y2-y1 <= 0 {
		return nil
	}

	crop := image.NewRGBA(image.Rect(0, 0, x2-x1, y2-y1))
	draw.Draw(crop, crop.Bounds(), img, image.Pt(x1, y1), draw.Src)
	return crop
}

// encodeJPEG encodes an image as JPEG with the given quality.
func encodeJPEG(img image.Image, quality int) []byte {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	return buf.Bytes()
}
