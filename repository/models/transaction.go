package models

import "time"

// Transaction lifecycle statuses. A transaction enters at StatusSend or
// StatusSendPending and ends at one of the terminal statuses, after which
// no field mutation is permitted.
const (
	StatusSend        = "send"
	StatusSendPending = "send_pending"
	StatusReceive     = "receive"
	StatusComplete    = "complete"
	StatusRejected    = "rejected"
	StatusExpired     = "expired"
)

// Transaction represents a value transfer between two participants,
// routed from a sender municipality to a receiver municipality.
type Transaction struct {
	TransactionID        string    `gorm:"column:transaction_id;primaryKey;type:varchar(36)" json:"transaction_id"`
	Sender               string    `gorm:"column:sender;type:varchar(100);not null" json:"sender"`
	Receiver             string    `gorm:"column:receiver;type:varchar(100);not null" json:"receiver"`
	Amount               float64   `gorm:"column:amount;not null" json:"amount"`
	SenderMunicipality   string    `gorm:"column:sender_municipality;type:varchar(100);not null" json:"sender_municipality"`
	ReceiverMunicipality string    `gorm:"column:receiver_municipality;type:varchar(100);not null" json:"receiver_municipality"`
	SenderContinent      string    `gorm:"column:sender_continent;type:varchar(50)" json:"sender_continent"`
	ReceiverContinent    string    `gorm:"column:receiver_continent;type:varchar(50)" json:"receiver_continent"`
	SenderMunicipalID    string    `gorm:"column:sender_municipal_id;type:varchar(100);index" json:"sender_municipal_id"`
	ReceiverMunicipalID  string    `gorm:"column:receiver_municipal_id;type:varchar(100);index" json:"receiver_municipal_id"`
	Signature            string    `gorm:"column:signature;type:text" json:"signature"`
	ProofOfPlace         string    `gorm:"column:proof_of_place;type:varchar(64)" json:"proof_of_place"`
	VerifiableCredential string    `gorm:"column:verifiable_credential;type:text" json:"verifiable_credential"`
	Details              string    `gorm:"column:details;type:text" json:"details,omitempty"`
	Status               string    `gorm:"column:status;type:varchar(20);not null;index" json:"status"`
	CreatedAt            time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt            time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// IsTerminal reports whether the transaction has reached a final status.
func (t *Transaction) IsTerminal() bool {
	return TerminalStatus(t.Status)
}

// TerminalStatus reports whether s is a final lifecycle status.
func TerminalStatus(s string) bool {
	switch s {
	case StatusComplete, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// KnownStatus reports whether s is a recognized lifecycle status.
func KnownStatus(s string) bool {
	switch s {
	case StatusSend, StatusSendPending, StatusReceive, StatusComplete, StatusRejected, StatusExpired:
		return true
	}
	return false
}
