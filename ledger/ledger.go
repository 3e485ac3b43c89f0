// Package ledger owns the transaction lifecycle: required-field validation,
// the status state machine, rate limiting, and the status-driven routing of
// records across shards up to their terminal migration into the analytics
// archive.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/google/uuid"

	"github.com/SatoshiNakamoto1024/city-chain-project-4/consensus"
	"github.com/SatoshiNakamoto1024/city-chain-project-4/geo"
	"github.com/SatoshiNakamoto1024/city-chain-project-4/repository"
	"github.com/SatoshiNakamoto1024/city-chain-project-4/repository/models"
)

// transitions is the legal state machine: send -> send_pending -> receive ->
// complete, with rejected reachable from any non-terminal state and expired
// owned by the sweeper.
var transitions = map[string]map[string]bool{
	models.StatusSend: {
		models.StatusSendPending: true,
		models.StatusRejected:    true,
	},
	models.StatusSendPending: {
		models.StatusReceive:  true,
		models.StatusRejected: true,
		models.StatusExpired:  true,
	},
	models.StatusReceive: {
		models.StatusComplete: true,
		models.StatusRejected: true,
	},
}

// CanTransition reports whether from -> to is a legal status transition.
func CanTransition(from, to string) bool {
	return transitions[from][to]
}

// CreateRequest is a parsed transaction creation payload.
type CreateRequest struct {
	Sender               string
	Receiver             string
	Amount               *float64
	SenderMunicipality   string
	ReceiverMunicipality string
	VerifiableCredential string
	Details              string
	Latitude             float64
	Longitude            float64

	// Signing material, required on the /send path only.
	PrivateKey string
	SeedPhrase string
}

// Ledger coordinates the transaction lifecycle across the directory, the
// consensus gate, the shard router and the downstream chain tiers.
type Ledger struct {
	directory    *geo.Directory
	gate         *consensus.Gate
	router       *repository.ShardRouter
	forwarder    *ChainForwarder
	limiter      *RateLimiter
	participants ParticipantRegistry
	history      *consensus.HistorySequence
	logger       cmtlog.Logger

	receiverQuota int
	now           func() time.Time
}

// Options tunes optional ledger behavior.
type Options struct {
	// Participants is the sender/receiver whitelist; nil accepts everyone.
	Participants ParticipantRegistry
	// ReceiverQuota caps how many claimed-but-unconfirmed transactions one
	// receiver may hold; zero means unlimited.
	ReceiverQuota int
}

// New wires a ledger.
func New(
	directory *geo.Directory,
	gate *consensus.Gate,
	router *repository.ShardRouter,
	forwarder *ChainForwarder,
	limiter *RateLimiter,
	logger cmtlog.Logger,
	opts Options,
) *Ledger {
	if logger == nil {
		logger = cmtlog.NewNopLogger()
	}
	return &Ledger{
		directory:     directory,
		gate:          gate,
		router:        router,
		forwarder:     forwarder,
		limiter:       limiter,
		participants:  opts.Participants,
		history:       consensus.NewHistorySequence(),
		logger:        logger,
		receiverQuota: opts.ReceiverQuota,
		now:           time.Now,
	}
}

// History exposes the append-only event sequence recorded for admitted
// transactions.
func (l *Ledger) History() *consensus.HistorySequence {
	return l.history
}

// CreateTransaction admits a transaction and routes it to the send_pending
// shard, then forwards it to the resolved municipal chain. Validation,
// rate-limit and consensus failures leave no residue in any store.
func (l *Ledger) CreateTransaction(ctx context.Context, req *CreateRequest) (*models.Transaction, *repository.Error) {
	return l.admit(ctx, req, models.StatusSendPending, nil)
}

// SendTransaction is the signing entry point: it requires the caller's key
// material, stores the transaction as send, and promotes it to send_pending
// once the municipal chain accepts the forward.
func (l *Ledger) SendTransaction(ctx context.Context, req *CreateRequest) (*models.Transaction, *repository.Error) {
	if req.PrivateKey == "" || req.SeedPhrase == "" {
		return nil, repository.NewError(repository.CodeValidation,
			"missing signing material", "private_key and seed_phrase are required")
	}
	signer := consensus.NewSignerFromSeed(req.SeedPhrase)
	return l.admit(ctx, req, models.StatusSend, signer)
}

func (l *Ledger) admit(ctx context.Context, req *CreateRequest, initialStatus string, signer *consensus.Signer) (*models.Transaction, *repository.Error) {
	if rerr := l.validateCreate(req); rerr != nil {
		return nil, rerr
	}
	if !l.limiter.Allow() {
		return nil, repository.NewError(repository.CodeRateLimited,
			"too many transactions in the last minute", "creation rate limit exceeded, back off and retry")
	}
	if l.participants != nil {
		if !l.participants.IsParticipant(req.Sender) || !l.participants.IsParticipant(req.Receiver) {
			return nil, repository.NewError(repository.CodeValidation,
				"invalid sender or receiver", "party is not on the participant whitelist")
		}
	}

	now := l.now().UTC()
	tx := &models.Transaction{
		TransactionID:        uuid.NewString(),
		Sender:               req.Sender,
		Receiver:             req.Receiver,
		Amount:               *req.Amount,
		SenderMunicipality:   req.SenderMunicipality,
		ReceiverMunicipality: req.ReceiverMunicipality,
		SenderContinent:      l.directory.ResolveContinent(req.SenderMunicipality),
		ReceiverContinent:    l.directory.ResolveContinent(req.ReceiverMunicipality),
		SenderMunicipalID:    req.SenderMunicipality,
		ReceiverMunicipalID:  req.ReceiverMunicipality,
		VerifiableCredential: req.VerifiableCredential,
		Details:              req.Details,
		ProofOfPlace:         consensus.NewPlaceProof(req.Latitude, req.Longitude, now).Generate(),
		Status:               initialStatus,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	round := l.gate.NewRound()
	if _, err := round.ElectRepresentative([]string{req.SenderMunicipality}, consensus.RoleSender); err != nil {
		return nil, repository.NewError(repository.CodeEmptyCandidateSet,
			"failed to elect sender representative", err.Error())
	}
	if _, err := round.ElectRepresentative([]string{req.ReceiverMunicipality}, consensus.RoleReceiver); err != nil {
		return nil, repository.NewError(repository.CodeEmptyCandidateSet,
			"failed to elect receiver representative", err.Error())
	}

	if signer != nil {
		sig, err := signer.SignTransaction(tx)
		if err != nil {
			return nil, repository.NewError(repository.CodeApprovalFailed,
				"signature creation failed", err.Error())
		}
		tx.Signature = sig
	}
	if err := l.gate.ApproveTransaction(round, tx); err != nil {
		return nil, repository.NewError(repository.CodeApprovalFailed,
			"failed to approve transaction", err.Error())
	}

	instance := instanceForStatus(initialStatus)
	if rerr := l.router.InsertTransaction(instance, tx.SenderContinent, tx); rerr != nil {
		return nil, rerr
	}
	l.history.Append(historyEvent(tx))

	endpoint := l.directory.ResolveMunicipalChain(tx.SenderMunicipality, tx.ReceiverMunicipality)
	if rerr := l.forwarder.ForwardTransaction(ctx, endpoint, tx); rerr != nil {
		// The record keeps its pre-forward status so a retry is safe.
		l.logger.Error("municipal chain forward failed",
			"transaction_id", tx.TransactionID, "endpoint", endpoint, "err", rerr)
		return tx, rerr
	}

	if initialStatus == models.StatusSend {
		if rerr := l.router.MoveTransaction(
			repository.InstanceSend, repository.InstanceSendPending,
			tx.SenderContinent, tx.TransactionID, models.StatusSendPending, l.now(),
		); rerr != nil {
			return tx, rerr
		}
		tx.Status = models.StatusSendPending
	}

	l.logger.Info("transaction admitted",
		"transaction_id", tx.TransactionID,
		"status", tx.Status,
		"sender_continent", tx.SenderContinent,
		"receiver_continent", tx.ReceiverContinent)
	return tx, nil
}

func (l *Ledger) validateCreate(req *CreateRequest) *repository.Error {
	missing := func(field string) *repository.Error {
		return repository.NewError(repository.CodeValidation,
			fmt.Sprintf("missing or invalid field: %s", field), "")
	}
	switch {
	case req.Sender == "":
		return missing("sender")
	case req.SenderMunicipality == "":
		return missing("sender_municipality")
	case req.Receiver == "":
		return missing("receiver")
	case req.ReceiverMunicipality == "":
		return missing("receiver_municipality")
	case req.Amount == nil:
		return missing("amount")
	}
	if *req.Amount < 0 {
		return repository.NewError(repository.CodeValidation,
			"invalid amount", "amount must be a non-negative number")
	}
	return nil
}

// UpdateStatus applies a status transition requested by a boundary
// collaborator. Illegal transitions fail and leave the stored status
// unchanged; reaching complete triggers the migration into the analytics
// archive.
func (l *Ledger) UpdateStatus(ctx context.Context, transactionID, newStatus, senderMunicipalID string) (*models.Transaction, *repository.Error) {
	if transactionID == "" || newStatus == "" || senderMunicipalID == "" {
		return nil, repository.NewError(repository.CodeValidation,
			"transaction_id, new_status and sender_municipal_id are required", "")
	}
	if !models.KnownStatus(newStatus) {
		return nil, repository.NewError(repository.CodeValidation,
			fmt.Sprintf("unknown status %q", newStatus), "")
	}

	continent := l.directory.ResolveContinent(senderMunicipalID)
	tx, instance, rerr := l.router.LookupOperational(continent, transactionID)
	if rerr != nil {
		return nil, rerr
	}
	if tx.IsTerminal() {
		return nil, repository.NewError(repository.CodeInvalidState,
			"transaction already finalized",
			fmt.Sprintf("status is %s and can no longer change", tx.Status))
	}
	if !CanTransition(tx.Status, newStatus) {
		return nil, repository.NewError(repository.CodeInvalidState,
			fmt.Sprintf("illegal transition %s -> %s", tx.Status, newStatus), "")
	}

	if tx.Status == models.StatusSend && newStatus == models.StatusSendPending {
		if rerr := l.router.MoveTransaction(
			repository.InstanceSend, repository.InstanceSendPending,
			continent, transactionID, models.StatusSendPending, l.now(),
		); rerr != nil {
			return nil, rerr
		}
	} else {
		won, rerr := l.router.UpdateStatusConditional(instance, continent, transactionID, tx.Status, newStatus, l.now())
		if rerr != nil {
			return nil, rerr
		}
		if !won {
			return nil, repository.NewError(repository.CodeInvalidState,
				"concurrent transition won", "the stored status changed underneath this update")
		}
	}
	tx.Status = newStatus
	tx.UpdatedAt = l.now().UTC()

	if newStatus == models.StatusComplete {
		if rerr := l.router.MigrateToAnalytics(repository.InstanceSendPending, continent, tx.SenderContinent, transactionID); rerr != nil {
			return nil, rerr
		}
	}

	l.logger.Info("transaction status updated", "transaction_id", transactionID, "status", newStatus)
	return tx, nil
}

// ClaimTransaction lets a receiver claim a pending transaction addressed to
// them, moving it from send_pending to receive.
func (l *Ledger) ClaimTransaction(ctx context.Context, transactionID, receiver, receiverMunicipality string) (*models.Transaction, *repository.Error) {
	if transactionID == "" || receiver == "" || receiverMunicipality == "" {
		return nil, repository.NewError(repository.CodeValidation,
			"transaction_id, receiver and receiver_municipality are required", "")
	}

	continent := l.directory.ResolveContinent(receiverMunicipality)
	tx, rerr := l.router.FindTransaction(repository.InstanceSendPending, continent, transactionID)
	if rerr != nil {
		return nil, rerr
	}
	if tx.ReceiverMunicipalID != receiverMunicipality {
		return nil, repository.NewError(repository.CodeEntityNotFound,
			"transaction not found",
			"no pending transaction for this municipality")
	}
	if tx.Receiver != receiver {
		return nil, repository.NewError(repository.CodeValidation,
			"receiver identity mismatch", "the pending record is addressed to a different receiver")
	}
	if l.receiverQuota > 0 {
		claimed, rerr := l.router.CountByReceiverStatus(continent, tx.Receiver, models.StatusReceive)
		if rerr != nil {
			return nil, rerr
		}
		if claimed >= int64(l.receiverQuota) {
			return nil, repository.NewError(repository.CodeRateLimited,
				"recipient quota exceeded", "confirm claimed transactions before claiming more")
		}
	}

	won, rerr := l.router.UpdateStatusConditional(
		repository.InstanceSendPending, continent, transactionID,
		models.StatusSendPending, models.StatusReceive, l.now())
	if rerr != nil {
		return nil, rerr
	}
	if !won {
		return nil, repository.NewError(repository.CodeInvalidState,
			"transaction is no longer pending", fmt.Sprintf("status is %s", tx.Status))
	}
	tx.Status = models.StatusReceive
	tx.UpdatedAt = l.now().UTC()
	l.logger.Info("transaction claimed", "transaction_id", transactionID, "receiver", tx.Receiver)
	return tx, nil
}

// ConfirmTransaction forwards a claimed transaction to the continental chain
// and finalizes it as complete once that tier accepts it. A downstream
// failure leaves the transaction claimed so the confirm can be retried.
func (l *Ledger) ConfirmTransaction(ctx context.Context, transactionID, receiverMunicipality string) (*models.Transaction, *repository.Error) {
	if transactionID == "" || receiverMunicipality == "" {
		return nil, repository.NewError(repository.CodeValidation,
			"transaction_id and receiver_municipality are required", "")
	}

	continent := l.directory.ResolveContinent(receiverMunicipality)
	tx, rerr := l.router.FindTransaction(repository.InstanceSendPending, continent, transactionID)
	if rerr != nil {
		return nil, rerr
	}
	if tx.Status != models.StatusReceive {
		return nil, repository.NewError(repository.CodeInvalidState,
			"transaction has not been claimed",
			fmt.Sprintf("status is %s, must be %s", tx.Status, models.StatusReceive))
	}

	endpoint := l.directory.ContinentalEndpoint(continent, l.directory.City(receiverMunicipality))
	if rerr := l.forwarder.ForwardToContinental(ctx, endpoint, tx); rerr != nil {
		return nil, rerr
	}
	return l.finalize(tx, continent)
}

// CompleteTransaction finalizes a claimed transaction without a downstream
// call; the confirming tier uses it once its own commit has succeeded.
func (l *Ledger) CompleteTransaction(ctx context.Context, transactionID, municipality string) (*models.Transaction, *repository.Error) {
	if transactionID == "" || municipality == "" {
		return nil, repository.NewError(repository.CodeValidation,
			"transaction_id and municipality are required", "")
	}
	continent := l.directory.ResolveContinent(municipality)
	tx, rerr := l.router.FindTransaction(repository.InstanceSendPending, continent, transactionID)
	if rerr != nil {
		return nil, rerr
	}
	if tx.Status != models.StatusReceive {
		return nil, repository.NewError(repository.CodeInvalidState,
			"transaction has not been claimed",
			fmt.Sprintf("status is %s, must be %s", tx.Status, models.StatusReceive))
	}
	return l.finalize(tx, continent)
}

func (l *Ledger) finalize(tx *models.Transaction, continent string) (*models.Transaction, *repository.Error) {
	won, rerr := l.router.UpdateStatusConditional(
		repository.InstanceSendPending, continent, tx.TransactionID,
		models.StatusReceive, models.StatusComplete, l.now())
	if rerr != nil {
		return nil, rerr
	}
	if !won {
		return nil, repository.NewError(repository.CodeInvalidState,
			"concurrent transition won", "the stored status changed underneath this update")
	}
	if rerr := l.router.MigrateToAnalytics(repository.InstanceSendPending, continent, tx.SenderContinent, tx.TransactionID); rerr != nil {
		return nil, rerr
	}
	tx.Status = models.StatusComplete
	tx.UpdatedAt = l.now().UTC()
	l.logger.Info("transaction completed", "transaction_id", tx.TransactionID, "continent", continent)
	return tx, nil
}

// RejectTransaction moves any non-terminal transaction to rejected with the
// caller's reason.
func (l *Ledger) RejectTransaction(ctx context.Context, transactionID, municipality, reason string) (*models.Transaction, *repository.Error) {
	if transactionID == "" || municipality == "" {
		return nil, repository.NewError(repository.CodeValidation,
			"transaction_id and municipality are required", "")
	}

	continent := l.directory.ResolveContinent(municipality)
	tx, instance, rerr := l.router.LookupOperational(continent, transactionID)
	if rerr != nil {
		return nil, rerr
	}
	if tx.IsTerminal() {
		return nil, repository.NewError(repository.CodeInvalidState,
			"transaction already finalized", fmt.Sprintf("status is %s", tx.Status))
	}

	won, rerr := l.router.MarkRejected(instance, continent, transactionID, tx.Status, reason, l.now())
	if rerr != nil {
		return nil, rerr
	}
	if !won {
		return nil, repository.NewError(repository.CodeInvalidState,
			"concurrent transition won", "the stored status changed underneath this update")
	}
	tx.Status = models.StatusRejected
	if reason != "" {
		tx.Details = reason
	}
	tx.UpdatedAt = l.now().UTC()
	l.logger.Info("transaction rejected", "transaction_id", transactionID, "reason", reason)
	return tx, nil
}

// PendingTransactions lists send_pending transactions addressed to a
// receiver at a municipality.
func (l *Ledger) PendingTransactions(receiver, receiverMunicipality string) ([]models.Transaction, *repository.Error) {
	if receiver == "" || receiverMunicipality == "" {
		return nil, repository.NewError(repository.CodeValidation,
			"receiver and receiver_municipality are required", "")
	}
	continent := l.directory.ResolveContinent(receiverMunicipality)
	return l.router.FindPendingForReceiver(continent, receiver, receiverMunicipality)
}

func instanceForStatus(status string) string {
	if status == models.StatusSend {
		return repository.InstanceSend
	}
	return repository.InstanceSendPending
}

func historyEvent(tx *models.Transaction) string {
	sum := sha256.Sum256([]byte(tx.Sender + tx.CreatedAt.Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])
}
