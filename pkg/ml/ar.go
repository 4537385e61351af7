package ml

import (
	"errors"
	"math"
)

// arModel is an autoregressive forecaster of order p over a d-times
// differenced series. Fit estimates the lag coefficients once; Forecast
// rolls the frozen coefficients forward from whatever window it is given
// and integrates back to that window's level.
type arModel struct {
	p    int
	d    int
	coef []float64
}

func newARModel(p, d int) *arModel {
	return &arModel{p: p, d: d}
}

func (m *arModel) fitted() bool { return m.coef != nil }

// Fit estimates [phi_1..phi_p] from values by least squares.
func (m *arModel) Fit(values []float64) error {
	work, _, err := m.difference(values)
	if err != nil {
		return err
	}
	coef, err := m.fitCoefficients(work)
	if err != nil {
		return err
	}
	m.coef = coef
	return nil
}

// Forecast predicts the next steps points using the frozen coefficients.
func (m *arModel) Forecast(values []float64, steps int) ([]float64, error) {
	if !m.fitted() {
		return nil, errors.New("ar: model not fitted")
	}
	history, lasts, err := m.difference(values)
	if err != nil {
		return nil, err
	}

	// Roll the model forward in differenced space.
	diffed := make([]float64, steps)
	for s := 0; s < steps; s++ {
		next := 0.0
		for lag := 1; lag <= m.p; lag++ {
			next += m.coef[lag-1] * history[len(history)-lag]
		}
		if math.IsNaN(next) || math.IsInf(next, 0) {
			return nil, errors.New("ar: forecast diverged")
		}
		history = append(history, next)
		diffed[s] = next
	}

	// Undo each differencing pass with a cumulative sum from the stored level.
	out := diffed
	for i := m.d - 1; i >= 0; i-- {
		level := lasts[i]
		integrated := make([]float64, len(out))
		for s, v := range out {
			level += v
			integrated[s] = level
		}
		out = integrated
	}
	return out, nil
}

// difference applies d differencing passes, remembering the last level at
// each depth for integration.
func (m *arModel) difference(values []float64) ([]float64, []float64, error) {
	if len(values) < m.p+m.d+2 {
		return nil, nil, errors.New("ar: series too short")
	}
	work := make([]float64, len(values))
	copy(work, values)
	lasts := make([]float64, 0, m.d)
	for i := 0; i < m.d; i++ {
		lasts = append(lasts, work[len(work)-1])
		work = differences(work)
	}
	if len(work) < m.p+1 {
		return nil, nil, errors.New("ar: differenced series too short")
	}
	return work, lasts, nil
}

// fitCoefficients solves the normal equations for [phi_1..phi_p]. There is
// no intercept column: differencing already removes the level, and leaving
// it out keeps smooth series (whose lag columns are collinear with a
// constant) solvable.
func (m *arModel) fitCoefficients(series []float64) ([]float64, error) {
	rows := len(series) - m.p
	cols := m.p

	x := make([][]float64, rows)
	y := make([]float64, rows)
	for i := 0; i < rows; i++ {
		x[i] = make([]float64, cols)
		for lag := 1; lag <= m.p; lag++ {
			x[i][lag-1] = series[i+m.p-lag]
		}
		y[i] = series[i+m.p]
	}

	// X'X and X'y.
	xtx := make([][]float64, cols)
	xty := make([]float64, cols)
	for a := 0; a < cols; a++ {
		xtx[a] = make([]float64, cols)
		for b := 0; b < cols; b++ {
			sum := 0.0
			for i := 0; i < rows; i++ {
				sum += x[i][a] * x[i][b]
			}
			xtx[a][b] = sum
		}
		sum := 0.0
		for i := 0; i < rows; i++ {
			sum += x[i][a] * y[i]
		}
		xty[a] = sum
	}
	return solveLeastSquares(xtx, xty)
}

// solveLeastSquares solves the normal equations, retrying with a small
// ridge penalty on the diagonal when the lag columns are collinear.
func solveLeastSquares(xtx [][]float64, xty []float64) ([]float64, error) {
	n := len(xty)
	a := make([][]float64, n)
	b := make([]float64, n)
	for i := range xtx {
		a[i] = append([]float64(nil), xtx[i]...)
	}
	copy(b, xty)
	if out, err := solveLinear(a, b); err == nil {
		return out, nil
	}

	lambda := 0.0
	for i := 0; i < n; i++ {
		lambda += math.Abs(xtx[i][i])
	}
	lambda = lambda / float64(n) * 1e-8
	if lambda < 1e-8 {
		lambda = 1e-8
	}
	for i := range xtx {
		a[i] = append([]float64(nil), xtx[i]...)
		a[i][i] += lambda
	}
	copy(b, xty)
	return solveLinear(a, b)
}

// solveLinear runs Gaussian elimination with partial pivoting on ax = b.
// It mutates both arguments.
func solveLinear(a [][]float64, b []float64) ([]float64, error) {
	n := len(b)
	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, errors.New("singular design matrix")
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for row := col + 1; row < n; row++ {
			factor := a[row][col] / a[col][col]
			for k := col; k < n; k++ {
				a[row][k] -= factor * a[col][k]
			}
			b[row] -= factor * b[col]
		}
	}

	out := make([]float64, n)
	for row := n - 1; row >= 0; row-- {
		sum := b[row]
		for k := row + 1; k < n; k++ {
			sum -= a[row][k] * out[k]
		}
		out[row] = sum / a[row][row]
	}
	return out, nil
}
