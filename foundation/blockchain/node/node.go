// Package node implements the runtime for a single simulated
// participant: one identity, one chain replica and one mailbox loop.
package node

import (
	"context"
	"crypto/ecdsa"
	"sync"
	"time"

	"github.com/blocksim/blocksim/foundation/blockchain/database"
	"github.com/blocksim/blocksim/foundation/blockchain/genesis"
)

// mailboxBuffer bounds how many messages can queue while a node is busy
// mining. One propose plus one broadcast per peer per round is the most
// the protocol produces, so this is generous.
const mailboxBuffer = 128

// EventHandler defines a function that is called when events occur in
// the processing of a node's workflows.
type EventHandler func(v string, args ...any)

// =============================================================================

// Config represents the configuration required to construct a node.
type Config struct {
	Name       string
	PrivateKey *ecdsa.PrivateKey
	Genesis    genesis.Genesis
	Reports    chan<- Report
	EvHandler  EventHandler
}

// Node owns one chain replica and reacts to mailbox messages. All
// mutation of the replica happens on the node's own goroutine, no other
// component ever touches it.
type Node struct {
	name       string
	privateKey *ecdsa.PrivateKey
	accountID  database.AccountID
	genesis    genesis.Genesis
	chain      *database.Chain
	mailbox    chan Message
	peers      []chan<- Message
	reports    chan<- Report
	evHandler  EventHandler

	wg   sync.WaitGroup
	shut chan struct{}
}

// New constructs a node with a fresh replica seeded at genesis.
func New(cfg Config) *Node {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	n := Node{
		name:       cfg.Name,
		privateKey: cfg.PrivateKey,
		accountID:  database.PublicKeyToAccountID(cfg.PrivateKey.PublicKey),
		genesis:    cfg.Genesis,
		chain:      database.NewChain(database.GenesisBlock(cfg.Genesis), ev),
		mailbox:    make(chan Message, mailboxBuffer),
		reports:    cfg.Reports,
		evHandler:  ev,
		shut:       make(chan struct{}),
	}

	return &n
}

// Name returns the display name of the node.
func (n *Node) Name() string {
	return n.name
}

// AccountID returns the identity the node stamps mined blocks with.
func (n *Node) AccountID() database.AccountID {
	return n.accountID
}

// Mailbox returns the send side of the node's mailbox. This is the only
// handle peers and the orchestrator hold on a node.
func (n *Node) Mailbox() chan<- Message {
	return n.mailbox
}

// SetPeers wires the mailboxes of every other node for broadcasting.
// Must be called before Run.
func (n *Node) SetPeers(peers []chan<- Message) {
	n.peers = peers
}

// Run starts the mailbox loop goroutine. The provided context cancels
// an in-flight mining search promptly on shutdown.
func (n *Node) Run(ctx context.Context) {
	n.wg.Add(1)

	// Don't return until we know the G is up and running.
	hasStarted := make(chan bool)

	go func() {
		defer n.wg.Done()
		hasStarted <- true
		n.mailboxOperations(ctx)
	}()

	<-hasStarted
}

// Shutdown terminates the mailbox loop and discards anything still
// queued in the mailbox.
func (n *Node) Shutdown() {
	n.evHandler("node: %s: shutdown: started", n.name)
	defer n.evHandler("node: %s: shutdown: completed", n.name)

	close(n.shut)
	n.wg.Wait()

	n.drainMailbox()
}

// =============================================================================

// mailboxOperations processes mailbox messages in FIFO order until the
// node is shut down. This is the only goroutine that touches the replica.
func (n *Node) mailboxOperations(ctx context.Context) {
	n.evHandler("node: %s: mailboxOperations: G started: account[%s]", n.name, n.accountID)
	defer n.evHandler("node: %s: mailboxOperations: G completed", n.name)

	for {
		select {
		case msg := <-n.mailbox:
			switch msg := msg.(type) {
			case ProposeBlockMsg:
				n.runMiningOperation(ctx, msg)

			case PeerBlockMsg:
				n.runValidateOperation(msg)

			case StatusMsg:
				msg.Reply <- n.status()

			case ChainMsg:
				msg.Reply <- n.chain.Blocks()
			}

		case <-ctx.Done():
			return

		case <-n.shut:
			n.evHandler("node: %s: mailboxOperations: received shut signal", n.name)
			return
		}
	}
}

// runMiningOperation mines the next block, appends it to the node's own
// replica first and then broadcasts a copy to every peer mailbox.
func (n *Node) runMiningOperation(ctx context.Context, msg ProposeBlockMsg) {
	n.evHandler("node: %s: runMiningOperation: MINING: started: round[%d]: traceid[%s]", n.name, msg.Round, msg.TraceID)
	defer n.evHandler("node: %s: runMiningOperation: MINING: completed: round[%d]", n.name, msg.Round)

	tip := n.chain.Tip()

	// The orchestrator's expectation is diagnostic only, the replica tip
	// stays authoritative.
	if msg.ExpectedNumber != tip.Header.Number+1 {
		n.evHandler("node: %s: runMiningOperation: WARNING: expected number mismatch: got[%d] tip+1[%d]", n.name, msg.ExpectedNumber, tip.Header.Number+1)
	}

	reward := database.NewRewardTx(n.accountID, n.genesis.MiningReward)

	t := time.Now()
	block, err := database.POW(ctx, n.privateKey, n.genesis.Difficulty, tip, reward, n.evHandler)
	duration := time.Since(t)

	if err != nil {

		// The only way the search fails is a cancellation. Return to
		// idle without a result, the run is stopping anyway.
		n.evHandler("node: %s: runMiningOperation: MINING: CANCELLED: %s", n.name, err)
		return
	}

	data := database.NewBlockData(block)

	// Own replica first, so this node never broadcasts a block it does
	// not itself carry.
	if err := n.chain.Append(data); err != nil {
		n.evHandler("node: %s: runMiningOperation: MINING: ERROR: own block rejected: %s", n.name, err)
		n.report(Report{
			Round:   msg.Round,
			Outcome: OutcomeRejected,
			Reason:  database.Reason(err),
		})
		return
	}

	n.evHandler("node: %s: runMiningOperation: BROADCAST: blk[%d] hash[%s] to %d peers", n.name, data.Header.Number, data.Hash, len(n.peers))

	for _, peer := range n.peers {
		peer <- PeerBlockMsg{
			FromName: n.name,
			Round:    msg.Round,
			Data:     data,
		}
	}

	n.report(Report{
		Round:     msg.Round,
		Outcome:   OutcomeMined,
		BlockHash: data.Hash,
		Attempts:  block.Header.Nonce + 1,
		Duration:  duration,
	})
}

// runValidateOperation validates a peer's block against the replica tip
// and appends it. A rejection is recorded and reported, never fatal.
func (n *Node) runValidateOperation(msg PeerBlockMsg) {
	n.evHandler("node: %s: runValidateOperation: VALIDATE: blk[%d] from[%s]", n.name, msg.Data.Header.Number, msg.FromName)

	if err := n.chain.Append(msg.Data); err != nil {
		n.evHandler("node: %s: runValidateOperation: REJECTED: blk[%d]: %s", n.name, msg.Data.Header.Number, err)
		n.report(Report{
			Round:   msg.Round,
			Outcome: OutcomeRejected,
			Reason:  database.Reason(err),
		})
		return
	}

	n.evHandler("node: %s: runValidateOperation: ACCEPTED: blk[%d]", n.name, msg.Data.Header.Number)

	n.report(Report{
		Round:   msg.Round,
		Outcome: OutcomeAccepted,
	})
}

// report fills in the replica view and delivers the report to the
// orchestrator unless the node is shutting down.
func (n *Node) report(r Report) {
	r.NodeName = n.name
	r.Height = n.chain.Height()
	r.TipHash = n.chain.Tip().Hash()

	select {
	case n.reports <- r:
	case <-n.shut:
	}
}

// status builds the replica view for query messages.
func (n *Node) status() Status {
	return Status{
		Name:      n.name,
		AccountID: n.accountID,
		Height:    n.chain.Height(),
		TipHash:   n.chain.Tip().Hash(),
	}
}

// drainMailbox discards whatever was still queued when the node stopped.
func (n *Node) drainMailbox() {
	for {
		select {
		case <-n.mailbox:
		default:
			return
		}
	}
}
