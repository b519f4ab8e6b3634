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
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"os"

	"golang.org/x/image/tiff"
)

// Write all z-planes of a volume to 16-bit TIFF files. The file name pattern takes the
// plane index, e.g. "fused_z%04d.tif". Values are scaled from [min, max] with gamma
func (v *Volume) WriteTIFF16Planes(pattern string, min, max, gamma float32) error {
	for z := 0; z < v.Dims[2]; z++ {
		if err := v.WritePlaneTIFF16ToFile(fmt.Sprintf(pattern, z), z, min, max, gamma); err != nil {
			return err
		}
	}
	return nil
}

// Write a single z-plane to a 16-bit TIFF file, using the given min, max and gamma.
func (v *Volume) WritePlaneTIFF16ToFile(fileName string, z int, min, max, gamma float32) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	if err := v.writePlaneTIFF16Buffered(file, z, min, max, gamma); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Write a single z-plane to 16-bit TIFF through a buffer, flushing it at the end
func (v *Volume) writePlaneTIFF16Buffered(w io.Writer, z int, min, max, gamma float32) error {
	writer := bufio.NewWriter(w)
	if err := v.WritePlaneTIFF16(writer, z, min, max, gamma); err != nil {
		return err
	}
	return writer.Flush()
}

// Write a single z-plane to 16-bit TIFF, using the given min, max and gamma.
func (v *Volume) WritePlaneTIFF16(writer io.Writer, z int, min, max, gamma float32) error {
	width, height := v.Dims[0], v.Dims[1]
	img := image.NewGray16(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale := float32(1)
	if max > min {
		scale = 1 / (max - min)
	}
	gammaInv := float64(1.0 / gamma)
	plane := v.Data[z*width*height : (z+1)*width*height]
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			gray := (plane[yoffset+x] - min) * scale
			// replace NaNs with zeros for export, else TIFF output breaks
			if math.IsNaN(float64(gray)) || gray < 0 {
				gray = 0
			}
			if gray > 1 {
				gray = 1
			}
			if gammaInv != 1.0 {
				gray = float32(math.Pow(float64(gray), gammaInv))
			}
			img.SetGray16(x, y, color.Gray16{uint16(gray * 65535)})
		}
	}

	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}
