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
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/mlnoga/spimfuse/internal/fault"
)

// File magic for zstd-compressed float32 volumes
const magic = "SPV1"

// Largest volume accepted when decoding, in voxels
const maxVoxels = 1 << 34

// Write a volume to file. The stream is zstd compressed and holds the magic,
// three little-endian int32 dimensions and the float32 little-endian voxels
func (v *Volume) WriteFile(fileName string) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := v.Write(writer); err != nil {
		return err
	}
	return writer.Flush()
}

// Write a volume to the given writer, see WriteFile
func (v *Volume) Write(w io.Writer) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	head := make([]byte, 16)
	copy(head, magic)
	for d := 0; d < 3; d++ {
		binary.LittleEndian.PutUint32(head[4+4*d:], uint32(int32(v.Dims[d])))
	}
	if _, err := enc.Write(head); err != nil {
		enc.Close()
		return err
	}

	// convert in chunks to bound the temporary buffer
	const chunk = 1 << 16
	buf := make([]byte, 4*chunk)
	for start := 0; start < len(v.Data); start += chunk {
		end := start + chunk
		if end > len(v.Data) {
			end = len(v.Data)
		}
		for i, d := range v.Data[start:end] {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(d))
		}
		if _, err := enc.Write(buf[:4*(end-start)]); err != nil {
			enc.Close()
			return err
		}
	}
	return enc.Close()
}

// Read a volume from file, see WriteFile for the format
func ReadFile(fileName string) (*Volume, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, fault.Wrap(fault.KindData, err, "opening volume")
	}
	defer file.Close()
	v, err := Read(bufio.NewReader(file))
	if err != nil {
		return nil, fault.Wrap(fault.KindData, err, "reading volume %s", fileName)
	}
	return v, nil
}

// Read a volume from the given reader, see WriteFile for the format
func Read(r io.Reader) (*Volume, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	head := make([]byte, 16)
	if _, err := io.ReadFull(dec, head); err != nil {
		return nil, err
	}
	if string(head[:4]) != magic {
		return nil, fault.Data("bad magic %q", string(head[:4]))
	}
	var dims [3]int
	n := int64(1)
	for d := 0; d < 3; d++ {
		dims[d] = int(int32(binary.LittleEndian.Uint32(head[4+4*d:])))
		if dims[d] <= 0 {
			return nil, fault.Data("invalid dimensions %v", dims)
		}
		n *= int64(dims[d])
	}
	if n > maxVoxels {
		return nil, fault.Data("volume %v too large", dims)
	}

	v := New(dims)
	const chunk = 1 << 16
	buf := make([]byte, 4*chunk)
	for start := 0; start < len(v.Data); start += chunk {
		end := start + chunk
		if end > len(v.Data) {
			end = len(v.Data)
		}
		b := buf[:4*(end-start)]
		if _, err := io.ReadFull(dec, b); err != nil {
			return nil, err
		}
		for i := range v.Data[start:end] {
			v.Data[start+i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
		}
	}
	return v, nil
}
