// Package orchestrator runs the round loop that serializes the right to
// propose the next block across the node population and checks that
// every replica converges at the end of each round.
package orchestrator

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/blocksim/blocksim/foundation/blockchain/database"
	"github.com/blocksim/blocksim/foundation/blockchain/genesis"
	"github.com/blocksim/blocksim/foundation/blockchain/node"
	"github.com/google/uuid"
)

// ErrChainsDiverged is returned when replicas disagree on height or tip
// hash after a round. Under the trusted single-proposer model this can
// only mean a logic defect, so it is fatal to the run.
var ErrChainsDiverged = errors.New("replica chains diverged")

// defaultRoundTimeout bounds how long a round may wait for reports
// before the run is declared stuck. Diagnostic, not part of consensus.
const defaultRoundTimeout = 5 * time.Minute

// =============================================================================

// Identity carries the name and key material for one node of the
// population.
type Identity struct {
	Name       string
	PrivateKey *ecdsa.PrivateKey
}

// Config represents the configuration required to construct the
// orchestrator and its node population.
type Config struct {
	Genesis      genesis.Genesis
	Identities   []Identity
	Seed         int64
	RoundTimeout time.Duration
	EvHandler    node.EventHandler
}

// Orchestrator owns the node handles and mailboxes and runs the round
// protocol. It never reads or writes any replica directly, all state
// exchange happens through messages and reports.
type Orchestrator struct {
	runID        string
	gen          genesis.Genesis
	nodes        []*node.Node
	reports      chan node.Report
	rng          *rand.Rand
	roundTimeout time.Duration
	evHandler    node.EventHandler

	mu      sync.Mutex
	results []RoundResult
}

// New constructs the node population and the orchestrator that drives
// it. The seed makes node selection reproducible across runs.
func New(cfg Config) (*Orchestrator, error) {
	if len(cfg.Identities) < 2 {
		return nil, fmt.Errorf("population of %d is too small to simulate broadcast", len(cfg.Identities))
	}

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	roundTimeout := cfg.RoundTimeout
	if roundTimeout == 0 {
		roundTimeout = defaultRoundTimeout
	}

	// Reports from the whole population for one round fit the buffer so
	// no node ever blocks reporting.
	reports := make(chan node.Report, len(cfg.Identities))

	nodes := make([]*node.Node, len(cfg.Identities))
	for i, identity := range cfg.Identities {
		nodes[i] = node.New(node.Config{
			Name:       identity.Name,
			PrivateKey: identity.PrivateKey,
			Genesis:    cfg.Genesis,
			Reports:    reports,
			EvHandler:  ev,
		})
	}

	// Give every node the mailboxes of its peers for broadcasting.
	for i, n := range nodes {
		peers := make([]chan<- node.Message, 0, len(nodes)-1)
		for j, peer := range nodes {
			if j != i {
				peers = append(peers, peer.Mailbox())
			}
		}
		n.SetPeers(peers)
	}

	orc := Orchestrator{
		runID:        uuid.NewString(),
		gen:          cfg.Genesis,
		nodes:        nodes,
		reports:      reports,
		rng:          rand.New(rand.NewSource(cfg.Seed)),
		roundTimeout: roundTimeout,
		evHandler:    ev,
	}

	return &orc, nil
}

// RunID returns the unique id assigned to this simulation run.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Genesis returns the genesis document the population was seeded with.
func (o *Orchestrator) Genesis() genesis.Genesis {
	return o.gen
}

// Start brings up the mailbox loop of every node. The context cancels
// any in-flight mining search on shutdown.
func (o *Orchestrator) Start(ctx context.Context) {
	o.evHandler("orchestrator: start: run[%s]: population[%d]", o.runID, len(o.nodes))

	for _, n := range o.nodes {
		n.Run(ctx)
	}
}

// Shutdown stops every node and discards pending reports.
func (o *Orchestrator) Shutdown() {
	o.evHandler("orchestrator: shutdown: started")
	defer o.evHandler("orchestrator: shutdown: completed")

	for _, n := range o.nodes {
		n.Shutdown()
	}

	for {
		select {
		case <-o.reports:
		default:
			return
		}
	}
}

// Run executes the specified number of rounds. Rounds are strictly
// sequential, round N+1 never starts before round N's convergence check
// completes, which is what rules out forks in this model.
func (o *Orchestrator) Run(ctx context.Context, rounds int) (Summary, error) {
	o.evHandler("orchestrator: run: run[%s]: rounds[%d]", o.runID, rounds)

	for round := uint64(1); round <= uint64(rounds); round++ {
		result, err := o.runRound(ctx, round)
		if err != nil {
			return o.summary(false), err
		}

		o.mu.Lock()
		o.results = append(o.results, result)
		o.mu.Unlock()
	}

	summary := o.summary(true)
	o.evHandler("orchestrator: run: CONVERGED: height[%d] tip[%s]", summary.Height, summary.TipHash)

	return summary, nil
}

// runRound selects a proposer, waits for its mined block to propagate
// and checks every replica landed on the same tip.
func (o *Orchestrator) runRound(ctx context.Context, round uint64) (RoundResult, error) {
	traceID := uuid.NewString()

	// Select one node uniformly at random to propose this round.
	proposer := o.nodes[o.rng.Intn(len(o.nodes))]

	o.evHandler("orchestrator: runRound: round[%d]: selected[%s]: traceid[%s]", round, proposer.Name(), traceID)

	proposer.Mailbox() <- node.ProposeBlockMsg{
		Round:          round,
		ExpectedNumber: round, // Genesis is 0, so round N produces block N.
		TraceID:        traceID,
	}

	timeout := time.NewTimer(o.roundTimeout)
	defer timeout.Stop()

	// The round is complete when the proposer reports the mined block
	// and every other node reports it processed the broadcast.
	var mined node.Report
	var haveMined bool
	acks := make([]node.Report, 0, len(o.nodes)-1)

	for !haveMined || len(acks) < len(o.nodes)-1 {
		select {
		case report := <-o.reports:
			switch report.Outcome {
			case node.OutcomeMined:
				mined = report
				haveMined = true
				o.evHandler("orchestrator: runRound: round[%d]: mined: blk[%s] attempts[%d] duration[%v]", round, report.BlockHash, report.Attempts, report.Duration)

			case node.OutcomeAccepted:
				acks = append(acks, report)

			case node.OutcomeRejected:
				acks = append(acks, report)
				o.evHandler("orchestrator: runRound: round[%d]: REJECTED by %s: reason[%s]", round, report.NodeName, report.Reason)
			}

		case <-timeout.C:
			return RoundResult{}, fmt.Errorf("round %d: timed out waiting for node reports", round)

		case <-ctx.Done():
			return RoundResult{}, ctx.Err()
		}
	}

	// Convergence check: every replica must report the proposer's height
	// and tip. A rejection leaves a replica behind and shows up here.
	var rejected int
	for _, ack := range acks {
		if ack.Outcome == node.OutcomeRejected {
			rejected++
		}
		if ack.Height != mined.Height || ack.TipHash != mined.TipHash {
			return RoundResult{}, fmt.Errorf("round %d: node %s at height %d tip %s, proposer at height %d tip %s: %w",
				round, ack.NodeName, ack.Height, ack.TipHash, mined.Height, mined.TipHash, ErrChainsDiverged)
		}
	}

	o.evHandler("orchestrator: runRound: round[%d]: converged: height[%d] tip[%s]", round, mined.Height, mined.TipHash)

	return RoundResult{
		Round:       round,
		Proposer:    proposer.Name(),
		ProposerID:  proposer.AccountID(),
		BlockHash:   mined.BlockHash,
		BlockNumber: mined.Height - 1,
		Attempts:    mined.Attempts,
		Duration:    mined.Duration,
		Accepted:    len(acks) - rejected,
		Rejected:    rejected,
	}, nil
}

// =============================================================================
// Query support for the viewer API. Queries flow through node mailboxes
// like every other cross-goroutine exchange.

// queryTimeout bounds viewer queries so a stopped node cannot hang an
// HTTP handler.
const queryTimeout = time.Second

// Status returns the replica view of every node that answers in time.
func (o *Orchestrator) Status() []node.Status {
	statuses := make([]node.Status, 0, len(o.nodes))

	for _, n := range o.nodes {
		reply := make(chan node.Status, 1)

		select {
		case n.Mailbox() <- node.StatusMsg{Reply: reply}:
		case <-time.After(queryTimeout):
			continue
		}

		select {
		case status := <-reply:
			statuses = append(statuses, status)
		case <-time.After(queryTimeout):
		}
	}

	return statuses
}

// NodeChain returns a copy of the named node's replica.
func (o *Orchestrator) NodeChain(name string) ([]database.BlockData, error) {
	for _, n := range o.nodes {
		if n.Name() != name {
			continue
		}

		reply := make(chan []database.BlockData, 1)

		select {
		case n.Mailbox() <- node.ChainMsg{Reply: reply}:
		case <-time.After(queryTimeout):
			return nil, fmt.Errorf("node %s: mailbox full", name)
		}

		select {
		case blocks := <-reply:
			return blocks, nil
		case <-time.After(queryTimeout):
			return nil, fmt.Errorf("node %s: no reply", name)
		}
	}

	return nil, fmt.Errorf("unknown node %s", name)
}

// Results returns a copy of the per-round results recorded so far.
func (o *Orchestrator) Results() []RoundResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	cpy := make([]RoundResult, len(o.results))
	copy(cpy, o.results)

	return cpy
}

// summary builds the run summary from the recorded results.
func (o *Orchestrator) summary(converged bool) Summary {
	o.mu.Lock()
	defer o.mu.Unlock()

	return newSummary(o.runID, o.results, converged)
}
