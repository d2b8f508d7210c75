package engine

import (
	"math"
	"sort"
)

const (
	betaMaxIterations = 100
	betaEpsilon       = 1e-10

	// constantTolerance is relative to the largest magnitude in the vector.
	constantTolerance = 1e-12
)

// lanczosCoefficients is the six-term series used by LogGamma.
var lanczosCoefficients = [6]float64{
	76.18009172947146, -86.50532032941677,
	24.01409824083091, -1.231739572450155,
	0.1208650973866179e-2, -0.5395239384953e-5,
}

// Mean returns the arithmetic mean, or NaN for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// PopulationVariance divides by n, not n-1.
func PopulationVariance(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	mean := Mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(values))
}

// UpperMedian returns the element at index n/2 of the ascending-sorted values.
// For even counts this is the upper of the two middle elements, not their average.
func UpperMedian(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}

// IsConstant reports whether all values lie within a tolerance scaled to their
// magnitude. Vectors holding NaN or Inf are never constant.
func IsConstant(values []float64) bool {
	if len(values) == 0 {
		return true
	}
	lo, hi := values[0], values[0]
	scale := 1.0
	for _, v := range values {
		if !Finite(v) {
			return false
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		scale = math.Max(scale, math.Abs(v))
	}
	return hi-lo <= constantTolerance*scale
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Pearson computes the correlation coefficient of two equal-length vectors.
// It returns 0 when either vector is constant, has fewer than two points, or
// the computation overflows, and clamps floating-point drift into [-1, 1].
func Pearson(x, y []float64) float64 {
	n := len(x)
	if n < 2 || n != len(y) {
		return 0
	}
	if IsConstant(x) || IsConstant(y) {
		return 0
	}
	mx, my := Mean(x), Mean(y)

	var num, sxx, syy float64
	for i := 0; i < n; i++ {
		dx := x[i] - mx
		dy := y[i] - my
		num += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	r := num / (math.Sqrt(sxx) * math.Sqrt(syy))
	if !Finite(r) {
		return 0
	}
	return clamp(r, -1, 1)
}

// PValue is the two-sided significance of a Pearson coefficient r over n samples.
func PValue(r float64, n int) float64 {
	if n <= 2 {
		return 1.0
	}
	df := n - 2
	t := r * math.Sqrt(float64(df)/(1-r*r))
	p := 2 * (1 - StudentTCDF(math.Abs(t), df))
	if math.IsNaN(p) {
		return 1.0
	}
	return clamp(p, 0, 1)
}

// StudentTCDF evaluates the Student-t cumulative distribution at t >= 0 with df degrees of freedom.
func StudentTCDF(t float64, df int) float64 {
	if df <= 0 {
		return 0.5
	}
	v := float64(df)
	x := v / (v + t*t)
	return 1 - 0.5*IncompleteBeta(x, v/2, 0.5)
}

// IncompleteBeta is the regularized incomplete beta function I_x(a, b).
// The normalization constant is evaluated in log space to avoid overflow.
func IncompleteBeta(x, a, b float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}

	bt := math.Exp(LogGamma(a+b) - LogGamma(a) - LogGamma(b) +
		a*math.Log(x) + b*math.Log(1-x))

	if x < (a+1)/(a+b+2) {
		return bt * betaContinuedFraction(x, a, b) / a
	}
	return 1 - bt*betaContinuedFraction(1-x, b, a)/b
}

// LogGamma returns ln Γ(x) for x > 0 using the Lanczos approximation.
func LogGamma(x float64) float64 {
	y := x
	tmp := x + 5.5
	tmp -= (x + 0.5) * math.Log(tmp)

	ser := 1.000000000190015
	for _, c := range lanczosCoefficients {
		y++
		ser += c / y
	}
	return -tmp + math.Log(2.5066282746310005*ser/x)
}

// betaContinuedFraction evaluates the incomplete beta continued fraction with the modified Lentz method.
func betaContinuedFraction(x, a, b float64) float64 {
	qab := a + b
	qap := a + 1
	qam := a - 1

	c := 1.0
	d := guardTiny(1 - qab*x/qap)
	d = 1 / d
	h := d

	for m := 1; m <= betaMaxIterations; m++ {
		mf := float64(m)
		m2 := 2 * mf

		aa := mf * (b - mf) * x / ((qam + m2) * (a + m2))
		d = guardTiny(1 + aa*d)
		c = guardTiny(1 + aa/c)
		d = 1 / d
		h *= d * c

		aa = -(a + mf) * (qab + mf) * x / ((a + m2) * (qap + m2))
		d = guardTiny(1 + aa*d)
		c = guardTiny(1 + aa/c)
		d = 1 / d
		del := d * c
		h *= del

		if math.Abs(del-1) < betaEpsilon {
			break
		}
	}
	return h
}

func guardTiny(v float64) float64 {
	if math.Abs(v) < betaEpsilon {
		return betaEpsilon
	}
	return v
}

// Round rounds half away from zero to the given number of decimal places.
func Round(value float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(value*scale) / scale
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
