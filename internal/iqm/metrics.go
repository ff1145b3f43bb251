package iqm

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

func meanIntensity(in Input) float64 {
	return mean(Clean(in.Fore))
}

func intensityRange(in Input) float64 {
	f := Clean(in.Fore)
	return floats.Max(f) - floats.Min(f)
}

func intensityVariance(in Input) float64 {
	return stat.PopVariance(Clean(in.Fore), nil)
}

// coefficientOfVariation is 100·σ/μ of the foreground, 0 when μ ≤ 0.
func coefficientOfVariation(in Input) float64 {
	f := Clean(in.Fore)
	mu, sigma := stat.PopMeanStdDev(f, nil)
	if mu <= 0 {
		return 0
	}
	return 100 * sigma / mu
}

// contrastPerPixel is the mean response of F to an 8-neighbour Laplacian.
func contrastPerPixel(in Input) float64 {
	return mean(Clean(flatten(convolve3(cleanDense(in.F), laplacian8))))
}

// peakSNR compares F to its 5×5 median filtered version.
func peakSNR(in Input) float64 {
	f := cleanDense(in.F)
	peak := floats.Max(flatten(f))
	if peak <= 0 {
		return 0
	}

	smoothed := flatten(medianFilter(f, patchSize))
	var mse float64
	for i, v := range flatten(f) {
		d := v - smoothed[i]
		mse += d * d
	}
	mse /= float64(len(smoothed))
	if mse <= 0 {
		return 0
	}
	return 20 * math.Log10(peak/math.Sqrt(mse))
}

func snrStdRatio(in Input) float64 {
	return std(Clean(in.Fore)) / guard(std(Clean(in.Back)))
}

func snrPatchOverBackground(in Input) float64 {
	return mean(Clean(patch(cleanDense(in.F)))) / guard(std(Clean(in.Back)))
}

func snrPatch(in Input) float64 {
	p := Clean(patch(cleanDense(in.F)))
	mu := mean(p)
	centred := make([]float64, len(p))
	for i, v := range p {
		centred[i] = v - mu
	}
	return mu / guard(std(centred))
}

func snrPatchPair(in Input) float64 {
	fp := Clean(patch(cleanDense(in.F)))
	bp := Clean(patch(cleanDense(in.B)))
	return mean(fp) / guard(std(bp))
}

// snrLocalVariance divides the foreground mean by the root of the mean
// 5×5 local variance of F, 0 when that variance vanishes.
func snrLocalVariance(in Input) float64 {
	lv := Clean(localVariance(cleanDense(in.F), patchSize))
	noise := math.Sqrt(mean(lv))
	if noise <= 0 || math.IsNaN(noise) {
		return 0
	}
	return mean(Clean(in.Fore)) / noise
}

func snrImmerkaer(in Input) float64 {
	return mean(Clean(in.Fore)) / guard(immerkaerSigma(cleanDense(in.F)))
}

// snrTexture uses the spread of the top 5% local binary pattern codes of F
// as the noise level.
func snrTexture(in Input) float64 {
	codes := localBinaryPattern(cleanDense(in.F))
	if len(codes) == 0 {
		return 0
	}
	return mean(Clean(in.Fore)) / textureNoise(codes)
}

// textureNoise is the standard deviation of the codes above their 95th
// percentile, at least Fallback.
func textureNoise(codes []float64) float64 {
	sorted := append([]float64(nil), codes...)
	sort.Float64s(sorted)
	threshold := percentile(sorted, 0.95)

	var texture []float64
	for _, v := range codes {
		if v > threshold {
			texture = append(texture, v)
		}
	}
	if len(texture) == 0 {
		return Fallback
	}
	return max(std(texture), Fallback)
}

func contrastToNoise(in Input) float64 {
	fp := Clean(patch(cleanDense(in.F)))
	bp := Clean(patch(cleanDense(in.B)))
	diff := make([]float64, len(fp))
	for i := range fp {
		diff[i] = fp[i] - bp[i]
	}
	return mean(diff) / guard(std(bp))
}

func patchVariation(in Input) float64 {
	fp := Clean(patch(cleanDense(in.F)))
	return std(fp) / guard(mean(fp))
}

func jointVariation(in Input) float64 {
	f, b := Clean(in.Fore), Clean(in.Back)
	return (std(f) + std(b)) / guard(math.Abs(mean(f)-mean(b)))
}

// entropyFocus is the entropy of F normalized by the entropy of a
// uniform image with the same number of pixels. Non-positive pixels do
// not contribute.
func entropyFocus(in Input) float64 {
	f := flatten(cleanDense(in.F))
	n := float64(len(f))
	efcMax := n * (1 / math.Sqrt(n)) * math.Log(1/math.Sqrt(n))
	if efcMax == 0 {
		return 0
	}

	bmax := math.Sqrt(floats.Dot(f, f))
	if bmax <= 0 || math.IsInf(bmax, 0) {
		bmax = Fallback
	}

	var sum float64
	for _, v := range f {
		if v <= 0 {
			continue
		}
		sum += (v / bmax) * math.Log((v+1e-16)/bmax)
	}
	return sum / math.Abs(efcMax)
}

// foregroundBackgroundEnergy is median(f²)/median(b²), 0 when the
// background energy is at most 1e-3.
func foregroundBackgroundEnergy(in Input) float64 {
	fg := median(squares(Clean(in.Fore)))
	bg := median(squares(Clean(in.Back)))
	if bg <= 1e-3 {
		return 0
	}
	return fg / (bg + Fallback)
}
