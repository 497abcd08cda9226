package centroid

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

const (
	// DefaultMaxIterations is the outer iteration budget of a single fit.
	DefaultMaxIterations = 200

	defaultFTol = 1e-10
	defaultXTol = 1e-10

	minBoundedWidth = 1e-3
	dampingFloor    = 1e-12
	maxLambdaTries  = 20
)

// Method selects the optimization strategy used by a FrameFitter.
type Method int

const (
	// MethodGauss is unconstrained Levenberg-Marquardt.
	MethodGauss Method = iota
	// MethodLeastSquares is Levenberg-Marquardt with box bounds: height >= 0,
	// centers inside the grid, widths between 1e-3 and the grid extent.
	MethodLeastSquares
	// MethodBFGS minimizes the sum of squares with quasi-Newton BFGS.
	MethodBFGS
)

var methodNames = map[Method]string{
	MethodGauss:        "gauss",
	MethodLeastSquares: "leastsq",
	MethodBFGS:         "bfgs",
}

func (m Method) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// ParseMethod maps a method name to a Method. Matching is case-insensitive.
func ParseMethod(s string) (Method, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for m, n := range methodNames {
		if n == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

// FrameFitter refines an initial parameter guess against one subframe.
//
// The residual minimized is (model - data) * weight, flattened over the grid.
// weights may be nil for uniform weighting. An error is returned only when
// data, grid and weights disagree in shape; numerical trouble is reported
// through FitResult.Status.
type FrameFitter interface {
	Fit(data Frame, grid Grid, init FitParams, weights *Frame) (FitResult, error)
}

// NewFrameFitter returns the fitter for method. maxIter <= 0 selects
// DefaultMaxIterations.
func NewFrameFitter(method Method, maxIter int) (FrameFitter, error) {
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	switch method {
	case MethodGauss:
		return &lmFitter{maxIter: maxIter, ftol: defaultFTol, xtol: defaultXTol}, nil
	case MethodLeastSquares:
		return &lmFitter{bounded: true, maxIter: maxIter, ftol: defaultFTol, xtol: defaultXTol}, nil
	case MethodBFGS:
		return &bfgsFitter{maxIter: maxIter, ftol: defaultFTol}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownMethod, method)
	}
}

// problem is the flattened least-squares problem for one subframe.
type problem struct {
	y, x   []float64
	obs    []float64
	weight []float64 // nil means uniform
}

func newProblem(data Frame, grid Grid, weights *Frame) (*problem, error) {
	if data.Empty() || len(data.Pix) != data.Rows*data.Cols || !grid.Matches(data) {
		return nil, fmt.Errorf("%w: grid %dx%d, data %dx%d", ErrShapeMismatch, grid.Rows, grid.Cols, data.Rows, data.Cols)
	}
	p := &problem{y: grid.Y, x: grid.X, obs: data.Pix}
	if weights != nil {
		if !weights.SameShape(data) || len(weights.Pix) != len(data.Pix) {
			return nil, fmt.Errorf("%w: weights %dx%d, data %dx%d", ErrShapeMismatch, weights.Rows, weights.Cols, data.Rows, data.Cols)
		}
		p.weight = weights.Pix
	}
	return p, nil
}

func (p *problem) len() int { return len(p.obs) }

func (p *problem) w(k int) float64 {
	if p.weight == nil {
		return 1
	}
	return p.weight[k]
}

// residuals writes (model - obs) * weight into fi and returns the sum of
// squares.
func (p *problem) residuals(params, fi []float64) float64 {
	cost := 0.0
	for k := range p.obs {
		r := (gaussianValue(params, p.y[k], p.x[k]) - p.obs[k]) * p.w(k)
		fi[k] = r
		cost += r * r
	}
	return cost
}

func (p *problem) jacobian(params []float64, jac *mat.Dense) {
	grad := make([]float64, NumParams)
	for k := range p.obs {
		gaussianGradient(params, p.y[k], p.x[k], grad)
		wk := p.w(k)
		for j, g := range grad {
			jac.Set(k, j, g*wk)
		}
	}
}

// stationaryTol bounds the cost decrease a Gauss-Newton step may still
// predict, relative to the current cost, at an accepted optimum.
const stationaryTol = 1e-6

// stationary reports whether params is a least-squares optimum: the decrease
// predicted by a full Gauss-Newton step, f'J (J'J)^-1 J'f, is negligible next
// to the cost. jac is scratch space of shape len x NumParams.
func (p *problem) stationary(params []float64, jac *mat.Dense) bool {
	m := p.len()
	fi := make([]float64, m)
	cost := p.residuals(params, fi)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return false
	}
	p.jacobian(params, jac)
	var jtj mat.SymDense
	jtj.SymOuterK(1, jac.T())
	var jtf mat.VecDense
	jtf.MulVec(jac.T(), mat.NewVecDense(m, fi))

	var chol mat.Cholesky
	if !chol.Factorize(&jtj) {
		return false
	}
	var dx mat.VecDense
	if err := chol.SolveVecTo(&dx, &jtf); err != nil {
		return false
	}
	predicted := mat.Dot(&jtf, &dx)

	scale := 0.0
	for k, v := range p.obs {
		r := v * p.w(k)
		scale += r * r
	}
	return predicted <= stationaryTol*cost+1e-24*scale
}

// bounds returns the box used by MethodLeastSquares.
func (p *problem) bounds() (lower, upper []float64) {
	minY, maxY := floats.Min(p.y), floats.Max(p.y)
	minX, maxX := floats.Min(p.x), floats.Max(p.x)
	extent := math.Max(maxY-minY+1, maxX-minX+1)
	inf := math.Inf(1)
	lower = []float64{0, minY, minX, minBoundedWidth, minBoundedWidth, -inf}
	upper = []float64{inf, maxY, maxX, extent, extent, inf}
	return lower, upper
}

type lmFitter struct {
	bounded bool
	maxIter int
	ftol    float64
	xtol    float64
}

func (f *lmFitter) Fit(data Frame, grid Grid, init FitParams, weights *Frame) (FitResult, error) {
	prob, err := newProblem(data, grid, weights)
	if err != nil {
		return FitResult{}, err
	}
	x0 := init.WithWidthFloor().Vector()
	var lower, upper []float64
	if f.bounded {
		lower, upper = prob.bounds()
	}
	return levenbergMarquardt(prob, x0, lower, upper, f.maxIter, f.ftol, f.xtol), nil
}

// levenbergMarquardt minimizes the problem's sum of squares starting at x0,
// damping the normal equations with lambda*diag(JtJ). When lower and upper
// are non-nil every trial point is clamped into the box.
func levenbergMarquardt(prob *problem, x0, lower, upper []float64, maxIter int, ftol, xtol float64) FitResult {
	n := len(x0)
	m := prob.len()
	bounded := lower != nil && upper != nil

	x := make([]float64, n)
	copy(x, x0)
	if bounded {
		clampVector(x, lower, upper)
	}

	fi := make([]float64, m)
	fiNew := make([]float64, m)
	xNew := make([]float64, n)
	step := make([]float64, n)
	cost := prob.residuals(x, fi)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return finishFit(x, 0, cost, StatusDegenerate, "non-finite initial residuals")
	}

	jac := mat.NewDense(m, n, nil)
	jtj := mat.NewSymDense(n, nil)
	jtf := mat.NewVecDense(n, nil)
	a := mat.NewSymDense(n, nil)
	rhs := mat.NewVecDense(n, nil)
	dx := mat.NewVecDense(n, nil)
	var chol mat.Cholesky

	lambda := 1e-3
	nu := 2.0

	for iter := 1; iter <= maxIter; iter++ {
		if cost == 0 {
			return finishFit(x, iter-1, cost, StatusConverged, "")
		}
		prob.jacobian(x, jac)
		jtj.SymOuterK(1, jac.T())
		jtf.MulVec(jac.T(), mat.NewVecDense(m, fi))

		for tries := 0; tries < maxLambdaTries; tries++ {
			for i := 0; i < n; i++ {
				for j := i; j < n; j++ {
					a.SetSym(i, j, jtj.At(i, j))
				}
				d := jtj.At(i, i)
				a.SetSym(i, i, d+lambda*math.Max(d, dampingFloor))
				rhs.SetVec(i, -jtf.AtVec(i))
			}
			if !chol.Factorize(a) {
				lambda *= nu
				nu *= 2
				continue
			}
			if err := chol.SolveVecTo(dx, rhs); err != nil {
				lambda *= nu
				nu *= 2
				continue
			}

			for j := 0; j < n; j++ {
				xNew[j] = x[j] + dx.AtVec(j)
			}
			if bounded {
				clampVector(xNew, lower, upper)
			}
			floats.SubTo(step, xNew, x)
			smallStep := floats.Norm(step, 2) <= xtol*(floats.Norm(x, 2)+xtol)

			costNew := prob.residuals(xNew, fiNew)
			if costNew < cost {
				improvement := cost - costNew
				prevCost := cost
				copy(x, xNew)
				copy(fi, fiNew)
				cost = costNew
				lambda = math.Max(lambda/3.0, 1e-15)
				nu = 2.0
				if improvement <= ftol*prevCost || smallStep {
					return finishFit(x, iter, cost, StatusConverged, "")
				}
				break
			}
			if smallStep {
				return finishFit(x, iter, cost, StatusConverged, "")
			}
			lambda *= nu
			nu *= 2
			if lambda > 1e16 {
				return finishFit(x, iter, cost, StatusNotConverged, "damping overflow")
			}
		}
	}
	return finishFit(x, maxIter, cost, StatusNotConverged, fmt.Sprintf("no convergence after %d iterations", maxIter))
}

func clampVector(x, lower, upper []float64) {
	for j := range x {
		x[j] = clampFloat64(x[j], lower[j], upper[j])
	}
}

// finishFit turns a raw solver vector into a FitResult. The model is even in
// each width, so widths are reported as absolute values; a vanished width is
// floored to MinWidth and flagged degenerate.
func finishFit(x []float64, iters int, cost float64, status FitStatus, reason string) FitResult {
	p := ParamsFromVector(x)
	p.WidthY = math.Abs(p.WidthY)
	p.WidthX = math.Abs(p.WidthX)

	switch {
	case !p.Finite() || math.IsNaN(cost) || math.IsInf(cost, 0):
		status = StatusDegenerate
		reason = "non-finite parameters"
	case p.WidthY == 0 || p.WidthX == 0:
		p = p.WithWidthFloor()
		status = StatusDegenerate
		reason = "zero width"
	}
	return FitResult{Params: p, Status: status, Reason: reason, Iterations: iters, Cost: cost}
}

type bfgsFitter struct {
	maxIter int
	ftol    float64
}

// bfgsIterationFactor widens the budget for BFGS, whose steps are first order.
const bfgsIterationFactor = 5

func (f *bfgsFitter) Fit(data Frame, grid Grid, init FitParams, weights *Frame) (FitResult, error) {
	prob, err := newProblem(data, grid, weights)
	if err != nil {
		return FitResult{}, err
	}
	x0 := init.WithWidthFloor().Vector()

	// Work in units of the starting point so height and offset do not swamp
	// the positional parameters.
	scale := make([]float64, len(x0))
	for i, v := range x0 {
		scale[i] = math.Max(math.Abs(v), 1)
	}
	unscale := func(z, dst []float64) {
		for i := range z {
			dst[i] = z[i] * scale[i]
		}
	}

	m := prob.len()
	x := make([]float64, len(x0))
	fi := make([]float64, m)
	if cost := prob.residuals(x0, fi); math.IsNaN(cost) || math.IsInf(cost, 0) {
		return finishFit(x0, 0, cost, StatusDegenerate, "non-finite initial residuals"), nil
	}
	jac := mat.NewDense(m, NumParams, nil)
	jtf := mat.NewVecDense(NumParams, nil)

	p := optimize.Problem{
		Func: func(z []float64) float64 {
			unscale(z, x)
			return prob.residuals(x, fi)
		},
		Grad: func(grad, z []float64) {
			unscale(z, x)
			prob.residuals(x, fi)
			prob.jacobian(x, jac)
			jtf.MulVec(jac.T(), mat.NewVecDense(m, fi))
			for i := range grad {
				grad[i] = 2 * jtf.AtVec(i) * scale[i]
			}
		},
	}

	z0 := make([]float64, len(x0))
	for i := range x0 {
		z0[i] = x0[i] / scale[i]
	}
	settings := &optimize.Settings{
		MajorIterations:   bfgsIterationFactor * f.maxIter,
		GradientThreshold: 1e-10,
		Converger: &optimize.FunctionConverge{
			Relative:   f.ftol,
			Iterations: 20,
		},
	}

	result, err := optimize.Minimize(p, z0, settings, &optimize.BFGS{})
	if result == nil {
		return finishFit(x0, 0, math.NaN(), StatusDegenerate, fmt.Sprintf("bfgs: %v", err)), nil
	}

	best := make([]float64, len(x0))
	unscale(result.X, best)
	status, reason := StatusNotConverged, result.Status.String()
	switch result.Status {
	case optimize.GradientThreshold, optimize.FunctionConvergence, optimize.MethodConverge,
		optimize.StepConvergence, optimize.Success:
		status, reason = StatusConverged, ""
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit, optimize.GradientEvaluationLimit,
		optimize.RuntimeLimit:
		reason = fmt.Sprintf("no convergence after %d iterations", result.Stats.MajorIterations)
	default:
		// BFGS usually ends with a failed line search once it can no longer
		// lower the cost in floating point. Accept that point when a
		// Gauss-Newton step from it would gain almost nothing.
		if prob.stationary(best, jac) {
			status, reason = StatusConverged, ""
		} else if err != nil {
			reason = err.Error()
		}
	}
	return finishFit(best, result.Stats.MajorIterations, result.F, status, reason), nil
}
