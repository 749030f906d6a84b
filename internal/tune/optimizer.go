package tune

import (
	"errors"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// minPopulation is the smallest population mayfly accepts.
const minPopulation = 20

// Optimizer minimises an objective over a box.
type Optimizer interface {
	// Run returns the best position found and its cost. lower and upper
	// bound every one of the dim coordinates.
	Run(eval func([]float64) float64, lower, upper float64, dim int) ([]float64, float64, error)
}

// MayflyAdapter wraps the external Mayfly library to conform to Optimizer.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a new Mayfly optimizer. Populations below 20 are raised
// to 20.
func NewMayfly(maxIters, popSize int, seed int64) *MayflyAdapter {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  max(popSize, minPopulation),
		seed:     seed,
	}
}

// Run executes the Mayfly optimization.
func (m *MayflyAdapter) Run(eval func([]float64) float64, lower, upper float64, dim int) ([]float64, float64, error) {
	if dim <= 0 || upper <= lower {
		return nil, 0, errors.New("mayfly: empty search space")
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = eval
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = lower
	config.UpperBound = upper
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, 0, err
	}

	return result.GlobalBest.Position, result.GlobalBest.Cost, nil
}
