package driver

import (
	"bytes"
	"image"
	"os"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"github.com/leenr/directoutput-libusb/pkg/directoutput"
)

// readFile loads a whole file, mapping filesystem failures to E_INVALIDARG
// the way a bad path argument is reported.
func readFile(filename string) ([]byte, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, directoutput.Failf(directoutput.EInvalidArg, "read %s: %v", filename, err)
	}
	return data, nil
}

// loadImageFile turns a file into the panel's raw frame. A file of exactly
// ImageSize bytes is taken as a raw frame; anything else must decode as an
// image, which is scaled to the display and flattened to 24-bit RGB.
func loadImageFile(filename string) ([]byte, error) {
	data, err := readFile(filename)
	if err != nil {
		return nil, err
	}
	if len(data) == directoutput.ImageSize {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, directoutput.Failf(directoutput.EInvalidArg, "decode %s: %v", filename, err)
	}
	return rasterize(img), nil
}

// rasterize scales an image to the display geometry and packs it as RGB,
// top row first.
func rasterize(img image.Image) []byte {
	bounds := image.Rect(0, 0, directoutput.ImageWidth, directoutput.ImageHeight)
	rgba := image.NewRGBA(bounds)
	draw.ApproxBiLinear.Scale(rgba, bounds, img, img.Bounds(), draw.Src, nil)

	out := make([]byte, 0, directoutput.ImageSize)
	for y := 0; y < directoutput.ImageHeight; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+directoutput.ImageWidth*4]
		for x := 0; x < directoutput.ImageWidth; x++ {
			out = append(out, row[x*4], row[x*4+1], row[x*4+2])
		}
	}
	return out
}
