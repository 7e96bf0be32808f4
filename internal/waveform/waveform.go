// Package waveform reduces a 16-bit WAV recording to a min/max plot
// suitable for drawing an overview of the whole file.
package waveform

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-audio/wav"

	"github.com/ShoYamanishi/vurecorder/internal/errors"
)

const componentName = "waveform"

const fullScale = 32767.0

// Plot is a per-column envelope of a recording. Points holds 2*Width
// screen coordinates in [0, Height]: even indexes are the positive maximum
// of the column, odd indexes the negative minimum. Silence maps to Height/2.
type Plot struct {
	Peak   int   `json:"peak"`
	Length int   `json:"length"`
	Width  int   `json:"width"`
	Height int   `json:"height"`
	Points []int `json:"points"`
}

// ComputePeakAndPlots decodes the 16-bit WAV file at path and returns its
// absolute peak, its sample count and the plot. Multi-channel files are
// plotted as one interleaved stream.
func ComputePeakAndPlots(path string, width, height int) (*Plot, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.ValidationError(fmt.Sprintf("invalid plot size %dx%d", width, height))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.FileError(fmt.Errorf("failed to open WAV file: %w", err), path, 0)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, errors.Newf("invalid WAV file format").
			Component(componentName).
			Category(errors.CategoryAudio).
			Context("file_path", path).
			Build()
	}
	if dec.BitDepth != 16 {
		return nil, errors.Newf("unsupported bit depth: %d", dec.BitDepth).
			Component(componentName).
			Category(errors.CategoryAudio).
			Context("file_path", path).
			Build()
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to decode PCM data: %w", err)).
			Component(componentName).
			Category(errors.CategoryFileIO).
			Context("file_path", path).
			Build()
	}

	return plotSamples(buf.Data, width, height), nil
}

// FromSamples plots interleaved 16-bit samples already in memory, such as
// the live capture history.
func FromSamples(samples []int16, width, height int) (*Plot, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.ValidationError(fmt.Sprintf("invalid plot size %dx%d", width, height))
	}
	ints := make([]int, len(samples))
	for i, s := range samples {
		ints[i] = int(s)
	}
	return plotSamples(ints, width, height), nil
}

func plotSamples(samples []int, width, height int) *Plot {
	raw := make([]int, 2*width)
	total := len(samples)

	var x, maxPos, minNeg, peak int
	for pos, y := range samples {
		col := int(float64(pos) * float64(width) / float64(total))
		if col > x {
			raw[2*x], raw[2*x+1] = maxPos, minNeg
			x++
			maxPos, minNeg = 0, 0
			if y >= 0 {
				maxPos = y
			} else {
				minNeg = y
			}
		} else if y >= 0 && y > maxPos {
			maxPos = y
		} else if y < 0 && y < minNeg {
			minNeg = y
		}
		peak = max(peak, abs(y))
	}
	if x < width {
		raw[2*x], raw[2*x+1] = maxPos, minNeg
	}

	half := float64(height) / 2
	points := make([]int, len(raw))
	for i, v := range raw {
		points[i] = int(float64(v)*half/fullScale + half)
	}

	return &Plot{Peak: peak, Length: total, Width: width, Height: height, Points: points}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// WriteText draws the plot as Height rows of '#' columns around a '-'
// centre line.
func (p *Plot) WriteText(w io.Writer) error {
	var sb strings.Builder
	centre := p.Height / 2
	for row := p.Height - 1; row >= 0; row-- {
		for x := range p.Width {
			top, bottom := p.Points[2*x], p.Points[2*x+1]
			switch {
			case row >= bottom && row <= top && top != bottom:
				sb.WriteByte('#')
			case row == centre:
				sb.WriteByte('-')
			default:
				sb.WriteByte(' ')
			}
		}
		sb.WriteByte('\n')
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
