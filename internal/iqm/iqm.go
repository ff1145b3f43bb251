// Package iqm computes no-reference image quality metrics over a segmented
// slice.
package iqm

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Input is one segmented slice. F and B are the slice masked to its
// foreground and background, Mask is 1 on the foreground, Fore and Back
// are the foreground and background pixel values.
type Input struct {
	F, B       *mat.Dense
	Mask       *mat.Dense
	Fore, Back []float64
}

// Metric is one quality measurement.
type Metric interface {
	Name() string
	// Compute never panics and never returns NaN or an infinity.
	Compute(in Input) float64
}

// Value is a named metric result.
type Value struct {
	Name  string
	Value float64
}

// Vector holds metric results in battery order.
type Vector []Value

// Get returns the value of a named metric.
func (v Vector) Get(name string) (float64, bool) {
	for _, m := range v {
		if m.Name == name {
			return m.Value, true
		}
	}
	return 0, false
}

type metricFunc struct {
	name string
	fn   func(Input) float64
}

func (m metricFunc) Name() string { return m.name }

func (m metricFunc) Compute(in Input) float64 { return finite(m.fn(in)) }

var battery = []Metric{
	metricFunc{"MEAN", meanIntensity},
	metricFunc{"RNG", intensityRange},
	metricFunc{"VAR", intensityVariance},
	metricFunc{"CV", coefficientOfVariation},
	metricFunc{"CPP", contrastPerPixel},
	metricFunc{"PSNR", peakSNR},
	metricFunc{"SNR1", snrStdRatio},
	metricFunc{"SNR2", snrPatchOverBackground},
	metricFunc{"SNR3", snrPatch},
	metricFunc{"SNR4", snrPatchPair},
	metricFunc{"SNR5", snrLocalVariance},
	metricFunc{"SNR6", snrImmerkaer},
	metricFunc{"SNR9", snrTexture},
	metricFunc{"CNR", contrastToNoise},
	metricFunc{"CVP", patchVariation},
	metricFunc{"CJV", jointVariation},
	metricFunc{"EFC", entropyFocus},
	metricFunc{"FBER", foregroundBackgroundEnergy},
}

// Battery returns every metric in report order.
func Battery() []Metric {
	return append([]Metric(nil), battery...)
}

// Names returns the metric names in report order.
func Names() []string {
	names := make([]string, len(battery))
	for i, m := range battery {
		names[i] = m.Name()
	}
	return names
}

// Measure runs the whole battery on one slice.
func Measure(in Input) Vector {
	out := make(Vector, len(battery))
	for i, m := range battery {
		out[i] = Value{Name: m.Name(), Value: m.Compute(in)}
	}
	return out
}

// Average returns the per-metric arithmetic mean of vectors, in the order of
// the first one.
func Average(vectors []Vector) Vector {
	if len(vectors) == 0 {
		return nil
	}

	out := make(Vector, len(vectors[0]))
	for i, m := range vectors[0] {
		var sum float64
		for _, v := range vectors {
			x, _ := v.Get(m.Name)
			sum += x
		}
		out[i] = Value{Name: m.Name, Value: finite(sum / float64(len(vectors)))}
	}
	return out
}

// finite maps NaN to 0 and infinities to the largest finite value.
func finite(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case math.IsInf(v, 1):
		return math.MaxFloat64
	case math.IsInf(v, -1):
		return -math.MaxFloat64
	}
	return v
}
