// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package vol

import (
	"bufio"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// A color ramp for false-color previews, blended in HCL space
type Ramp []colorful.Color

// Black to white through blue, magenta and orange. Readable for overlap counts and intensities alike
var HeatRamp = Ramp{
	{R: 0, G: 0, B: 0},
	{R: 0.12, G: 0.23, B: 0.58},
	{R: 0.71, G: 0.09, B: 0.62},
	{R: 0.97, G: 0.50, B: 0},
	{R: 1, G: 1, B: 1},
}

// Returns the ramp color for t in [0,1]
func (r Ramp) At(t float64) color.RGBA {
	if len(r) == 0 {
		g := uint8(t * 255)
		return color.RGBA{g, g, g, 255}
	}
	if t <= 0 || len(r) == 1 {
		c := r[0]
		return toRGBA(c)
	}
	if t >= 1 {
		return toRGBA(r[len(r)-1])
	}
	pos := t * float64(len(r)-1)
	i := int(pos)
	c := r[i].BlendHcl(r[i+1], pos-float64(i)).Clamped()
	return toRGBA(c)
}

func toRGBA(c colorful.Color) color.RGBA {
	r, g, b := c.RGB255()
	return color.RGBA{r, g, b, 255}
}

// Write the maximum intensity projection along z to JPG, using the given min, max, gamma and ramp.
func (v *Volume) WriteMIPJPGToFile(fileName string, min, max, gamma float32, quality int, ramp Ramp) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	return v.WriteMIPJPG(writer, min, max, gamma, quality, ramp)
}

// Write the maximum intensity projection along z to JPG, using the given min, max, gamma and ramp.
func (v *Volume) WriteMIPJPG(writer io.Writer, min, max, gamma float32, quality int, ramp Ramp) error {
	mip := v.MaxProjectionZ()
	width, height := mip.Dims[0], mip.Dims[1]
	img := image.NewRGBA(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale := float32(1)
	if max > min {
		scale = 1 / (max - min)
	}
	gammaInv := float64(1.0 / gamma)
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			gray := (mip.Data[yoffset+x] - min) * scale
			// replace NaNs with zeros for export, else JPG output breaks
			if math.IsNaN(float64(gray)) || gray < 0 {
				gray = 0
			}
			if gray > 1 {
				gray = 1
			}
			if gammaInv != 1.0 {
				gray = float32(math.Pow(float64(gray), gammaInv))
			}
			img.SetRGBA(x, y, ramp.At(float64(gray)))
		}
	}

	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}
