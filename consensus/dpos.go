// Package consensus implements the lightweight admission gate that stamps
// transactions before they are routed to a shard: representative election
// (DPoS-lite), proof of place, proof of history, and transaction signing.
//
// The gate is a liveness/admission mechanism, not a safety mechanism. It does
// not verify quorum and does not tolerate faulty representatives; a real
// deployment would swap the election strategy for a deterministic or
// stake-weighted scheme without changing the elect -> approve -> stamp
// contract.
package consensus

import (
	"errors"
	"fmt"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/SatoshiNakamoto1024/city-chain-project-4/repository/models"
)

// ErrNoRepresentative is returned when approval is requested before a
// successful election.
var ErrNoRepresentative = errors.New("no representative elected")

// Role distinguishes the sender-side and receiver-side candidate sets.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

type roundState int

const (
	noRepresentative roundState = iota
	representativeElected
	approved
)

// Round holds the candidate outcome of one election. It is created per
// election call and discarded after the approval decision is recorded onto a
// transaction.
type Round struct {
	strategy        ElectionStrategy
	representatives map[Role]string
	state           roundState
}

// Gate elects representatives and stamps approvals onto transactions.
type Gate struct {
	strategy ElectionStrategy
	logger   cmtlog.Logger
}

// NewGate builds a consensus gate around an election strategy.
func NewGate(strategy ElectionStrategy, logger cmtlog.Logger) *Gate {
	if logger == nil {
		logger = cmtlog.NewNopLogger()
	}
	return &Gate{strategy: strategy, logger: logger}
}

// NewRound starts an election round.
func (g *Gate) NewRound() *Round {
	return &Round{
		strategy:        g.strategy,
		representatives: make(map[Role]string),
	}
}

// ElectRepresentative selects one representative from the role-specific
// candidate set.
func (r *Round) ElectRepresentative(candidates []string, role Role) (string, error) {
	chosen, err := r.strategy.Elect(candidates)
	if err != nil {
		return "", err
	}
	r.representatives[role] = chosen
	r.state = representativeElected
	return chosen, nil
}

// Representative returns the elected representative for a role.
func (r *Round) Representative(role Role) (string, bool) {
	rep, ok := r.representatives[role]
	return rep, ok
}

// ApproveTransaction records the sender-side representative's approval on the
// transaction. It fails when no representative has been elected; callers must
// surface that as a server error, never proceed silently.
func (g *Gate) ApproveTransaction(round *Round, tx *models.Transaction) error {
	if round == nil || round.state == noRepresentative {
		return ErrNoRepresentative
	}
	rep, ok := round.Representative(RoleSender)
	if !ok {
		if rep, ok = round.Representative(RoleReceiver); !ok {
			return ErrNoRepresentative
		}
	}
	// A real signature from the sender replaces this stamp; the stamp only
	// fills in when the request carried no signature of its own.
	if tx.Signature == "" {
		tx.Signature = fmt.Sprintf("approved_by_%s", rep)
	}
	round.state = approved
	g.logger.Debug("transaction approved", "transaction_id", tx.TransactionID, "representative", rep)
	return nil
}
