package balance

// FillEstimator is the pluggable policy deciding the target load of a node
// and the band around it that still counts as balanced. Implementations must
// be monotonic in capacity.
type FillEstimator interface {
	// TargetLoad is the ideal load for a node of the given capacity.
	TargetLoad(capacity float64) float64

	// Tolerance is the acceptable distance from the target load.
	Tolerance(capacity float64) float64
}

// HalfFull targets each node at half its capacity and accepts loads within a
// quarter of capacity around that target.
type HalfFull struct{}

// NewHalfFull creates the default fill estimator.
func NewHalfFull() *HalfFull {
	return &HalfFull{}
}

// TargetLoad implements FillEstimator.
func (HalfFull) TargetLoad(capacity float64) float64 {
	return capacity / 2
}

// Tolerance implements FillEstimator.
func (HalfFull) Tolerance(capacity float64) float64 {
	return capacity / 4
}
