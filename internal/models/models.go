package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
)

// Team is one registered competing unit. TeamID comes from the shared counter
// and is never reused, even after the row is deleted.
type Team struct {
	TeamID           int64         `json:"teamId" gorm:"primaryKey;autoIncrement:false"`
	TeamNumber       string        `json:"teamNumber" gorm:"uniqueIndex;not null"`
	TeamName         string        `json:"teamName" gorm:"index;not null"`
	Players          []string      `json:"players" gorm:"serializer:json"`
	ContactEmail     string        `json:"contactEmail" gorm:"uniqueIndex;not null"`
	ContactNumber    string        `json:"contactNumber"`
	TeamLogo         string        `json:"teamLogo,omitempty"`
	PaymentMethod    string        `json:"paymentMethod"`
	PaymentStatus    PaymentStatus `json:"paymentStatus" gorm:"not null"`
	PaymentReference string        `json:"paymentReference" gorm:"uniqueIndex;not null"`
	AmountPaid       int64         `json:"amountPaid"`
	Stage            Stage         `json:"stage" gorm:"index;not null"`
	RegisteredAt     time.Time     `json:"registeredAt" gorm:"index"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// TeamNumber renders the display number for a team id.
func TeamNumber(teamID int64) string {
	return fmt.Sprintf("%03d", teamID)
}

// Counter is a named monotonic sequence. The "team" row backs team id allocation.
type Counter struct {
	Name  string `gorm:"primaryKey"`
	Value int64  `gorm:"not null;default:0"`
}

type ProofStatus string

const (
	ProofPending  ProofStatus = "pending"
	ProofVerified ProofStatus = "verified"
	ProofRejected ProofStatus = "rejected"
)

func (s ProofStatus) Valid() bool {
	switch s {
	case ProofPending, ProofVerified, ProofRejected:
		return true
	}
	return false
}

// PaymentProof is a human-reviewed claim of payment. It is not a Team until verified.
type PaymentProof struct {
	ID                   string         `json:"id" gorm:"primaryKey"`
	TeamName             string         `json:"teamName" gorm:"not null"`
	ContactEmail         string         `json:"contactEmail" gorm:"index;not null"`
	ContactNumber        string         `json:"contactNumber"`
	PaymentMethod        string         `json:"paymentMethod"`
	Amount               int64          `json:"amount"`
	TransactionReference string         `json:"transactionReference" gorm:"index;not null"`
	PayerName            string         `json:"payerName"`
	ProofImage           string         `json:"proofImage"`
	Registration         datatypes.JSON `json:"-"`
	Status               ProofStatus    `json:"status" gorm:"index;not null"`
	RejectionReason      string         `json:"rejectionReason,omitempty"`
	ReviewedBy           string         `json:"reviewedBy,omitempty"`
	SubmittedAt          time.Time      `json:"submittedAt"`
	ResolvedAt           *time.Time     `json:"resolvedAt,omitempty"`
}

// PaymentAudit keeps every finalize outcome together with the raw provider response.
type PaymentAudit struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Gateway      string `gorm:"index;not null"`
	Reference    string `gorm:"index"`
	Status       string `gorm:"not null"`
	Amount       int64
	ContactEmail string `gorm:"index"`
	RawPayload   datatypes.JSON
	Error        string
	CreatedAt    time.Time
}

// Settings is the single-row registration configuration editable by admins.
type Settings struct {
	ID               int    `json:"-" gorm:"primaryKey"`
	RegistrationOpen bool   `json:"registrationOpen"`
	FeeAmount        int64  `json:"feeAmount"`
	Currency         string `json:"currency"`
	UpdatedAt        time.Time
}
