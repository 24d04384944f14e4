package node

import (
	"time"

	"github.com/blocksim/blocksim/foundation/blockchain/database"
)

// Message is implemented by every value a node can receive in its
// mailbox. Messages are processed strictly in FIFO order.
type Message interface {
	isMessage()
}

// ProposeBlockMsg instructs the node to mine the next block, append it
// to its own replica and broadcast it to every peer. Sent only by the
// orchestrator, at most one node per round.
type ProposeBlockMsg struct {
	Round          uint64
	ExpectedNumber uint64 // Diagnostic cross check only, the replica tip is authoritative.
	TraceID        string
}

// PeerBlockMsg delivers an immutable copy of a newly mined block from
// the proposing peer.
type PeerBlockMsg struct {
	FromName string
	Round    uint64
	Data     database.BlockData
}

// StatusMsg asks the node for its replica status. The reply channel must
// have capacity so the node never blocks answering.
type StatusMsg struct {
	Reply chan Status
}

// ChainMsg asks the node for a full copy of its replica.
type ChainMsg struct {
	Reply chan []database.BlockData
}

func (ProposeBlockMsg) isMessage() {}
func (PeerBlockMsg) isMessage()    {}
func (StatusMsg) isMessage()       {}
func (ChainMsg) isMessage()        {}

// =============================================================================

// Status is the replica view a node reports through the query interface.
type Status struct {
	Name      string             `json:"name"`
	AccountID database.AccountID `json:"account_id"`
	Height    uint64             `json:"height"`
	TipHash   string             `json:"tip_hash"`
}

// =============================================================================

// Set of outcomes a node reports after processing a round message.
const (
	OutcomeMined    = "mined"
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)

// Report tells the orchestrator how a node finished processing a round
// message. It carries the replica height and tip so convergence can be
// checked without reading any chain state directly.
type Report struct {
	NodeName  string
	Round     uint64
	Outcome   string
	Reason    string // Rejection reason when the outcome is rejected.
	Height    uint64
	TipHash   string
	BlockHash string        // Hash of the mined block when the outcome is mined.
	Attempts  uint64        // Nonces tried by the proposer.
	Duration  time.Duration // Time the proposer spent mining.
}
