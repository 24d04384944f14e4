package orchestrator

import (
	"time"

	"github.com/blocksim/blocksim/foundation/blockchain/database"
	"gonum.org/v1/gonum/stat"
)

// RoundResult records what one completed round produced.
type RoundResult struct {
	Round       uint64             `json:"round"`
	Proposer    string             `json:"proposer"`
	ProposerID  database.AccountID `json:"proposer_id"`
	BlockHash   string             `json:"block_hash"`
	BlockNumber uint64             `json:"block_number"`
	Attempts    uint64             `json:"attempts"`
	Duration    time.Duration      `json:"duration"`
	Accepted    int                `json:"accepted"`
	Rejected    int                `json:"rejected"`
}

// Summary describes a full simulation run: whether the replicas
// converged and how the mining work was distributed.
type Summary struct {
	RunID           string        `json:"run_id"`
	Rounds          int           `json:"rounds"`
	Results         []RoundResult `json:"results"`
	Converged       bool          `json:"converged"`
	Height          uint64        `json:"height"`
	TipHash         string        `json:"tip_hash"`
	MeanAttempts    float64       `json:"mean_attempts"`
	StdDevAttempts  float64       `json:"stddev_attempts"`
	MeanDuration    time.Duration `json:"mean_duration"`
	StdDevDuration  time.Duration `json:"stddev_duration"`
}

// newSummary folds the per-round results into run level statistics.
func newSummary(runID string, results []RoundResult, converged bool) Summary {
	s := Summary{
		RunID:     runID,
		Rounds:    len(results),
		Results:   results,
		Converged: converged,
	}

	if len(results) == 0 {
		return s
	}

	last := results[len(results)-1]
	s.Height = last.BlockNumber + 1
	s.TipHash = last.BlockHash

	attempts := make([]float64, len(results))
	durations := make([]float64, len(results))
	for i, r := range results {
		attempts[i] = float64(r.Attempts)
		durations[i] = float64(r.Duration)
	}

	s.MeanAttempts = stat.Mean(attempts, nil)
	s.MeanDuration = time.Duration(stat.Mean(durations, nil))

	// The sample standard deviation needs at least two rounds.
	if len(results) > 1 {
		s.StdDevAttempts = stat.StdDev(attempts, nil)
		s.StdDevDuration = time.Duration(stat.StdDev(durations, nil))
	}

	return s
}
