package models

import (
	"net/mail"
	"strings"

	"tourney-registry/internal/errs"
	"tourney-registry/internal/util"
)

const PlayersPerTeam = 4

// RegisterCommand is the registration payload submitted with every payment method.
type RegisterCommand struct {
	TeamName      string   `json:"teamName"`
	Players       []string `json:"players"`
	ContactEmail  string   `json:"contactEmail"`
	ContactNumber string   `json:"contactNumber"`
	TeamLogo      string   `json:"teamLogo,omitempty"`
	PaymentMethod string   `json:"paymentMethod"`
}

// Normalize trims every field and lower-cases the email.
func (c RegisterCommand) Normalize() RegisterCommand {
	c.TeamName = strings.TrimSpace(c.TeamName)
	c.ContactEmail = util.NormalizeEmail(c.ContactEmail)
	c.ContactNumber = strings.TrimSpace(c.ContactNumber)
	c.TeamLogo = strings.TrimSpace(c.TeamLogo)
	c.PaymentMethod = strings.TrimSpace(c.PaymentMethod)
	players := make([]string, len(c.Players))
	for i, p := range c.Players {
		players[i] = strings.TrimSpace(p)
	}
	c.Players = players
	return c
}

func (c RegisterCommand) Validate() error {
	const op = "register"
	if err := validateTeamName(op, c.TeamName); err != nil {
		return err
	}
	if err := validatePlayers(op, c.Players); err != nil {
		return err
	}
	if err := validateEmail(op, c.ContactEmail); err != nil {
		return err
	}
	return validatePhone(op, c.ContactNumber)
}

// EditTeamCommand is an admin edit. Nil fields are left untouched; id, number
// and registration time are not editable at all.
type EditTeamCommand struct {
	TeamName      *string   `json:"teamName,omitempty"`
	Players       *[]string `json:"players,omitempty"`
	ContactEmail  *string   `json:"contactEmail,omitempty"`
	ContactNumber *string   `json:"contactNumber,omitempty"`
	TeamLogo      *string   `json:"teamLogo,omitempty"`
}

func (c EditTeamCommand) Validate() error {
	const op = "edit_team"
	if c.TeamName == nil && c.Players == nil && c.ContactEmail == nil && c.ContactNumber == nil && c.TeamLogo == nil {
		return errs.Validation(op, "nothing to update")
	}
	if c.TeamName != nil {
		if err := validateTeamName(op, strings.TrimSpace(*c.TeamName)); err != nil {
			return err
		}
	}
	if c.Players != nil {
		players := make([]string, len(*c.Players))
		for i, p := range *c.Players {
			players[i] = strings.TrimSpace(p)
		}
		if err := validatePlayers(op, players); err != nil {
			return err
		}
	}
	if c.ContactEmail != nil {
		if err := validateEmail(op, util.NormalizeEmail(*c.ContactEmail)); err != nil {
			return err
		}
	}
	if c.ContactNumber != nil {
		if err := validatePhone(op, strings.TrimSpace(*c.ContactNumber)); err != nil {
			return err
		}
	}
	return nil
}

// SubmitProofCommand is a manual proof-of-transfer submission. The
// registration fields sit at the top level of the body next to the proof.
type SubmitProofCommand struct {
	RegisterCommand
	TransactionReference string `json:"transactionReference"`
	Amount               int64  `json:"amount"`
	ProofImage           string `json:"proofImage"`
	PayerName            string `json:"payerName"`
}

func (c SubmitProofCommand) Validate() error {
	const op = "submit_proof"
	if err := c.RegisterCommand.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.TransactionReference) == "" {
		return errs.Validation(op, "transaction reference is required")
	}
	if c.Amount <= 0 {
		return errs.Validation(op, "amount must be positive")
	}
	if strings.TrimSpace(c.ProofImage) == "" {
		return errs.Validation(op, "proof image is required")
	}
	if strings.TrimSpace(c.PayerName) == "" {
		return errs.Validation(op, "payer name is required")
	}
	return nil
}

type BulkStageCommand struct {
	TeamIDs []int64 `json:"teamIds"`
	Stage   Stage   `json:"stage"`
}

func (c BulkStageCommand) Validate() error {
	if len(c.TeamIDs) == 0 {
		return errs.Validation("bulk_stage", "no teams selected")
	}
	if !c.Stage.Valid() {
		return errs.Validation("bulk_stage", "unknown stage %q", c.Stage)
	}
	return nil
}

type BulkDeleteCommand struct {
	TeamIDs []int64 `json:"teamIds"`
}

func (c BulkDeleteCommand) Validate() error {
	if len(c.TeamIDs) == 0 {
		return errs.Validation("bulk_delete", "no teams selected")
	}
	return nil
}

type UpdateSettingsCommand struct {
	RegistrationOpen *bool   `json:"registrationOpen,omitempty"`
	FeeAmount        *int64  `json:"feeAmount,omitempty"`
	Currency         *string `json:"currency,omitempty"`
}

func (c UpdateSettingsCommand) Validate() error {
	const op = "update_settings"
	if c.RegistrationOpen == nil && c.FeeAmount == nil && c.Currency == nil {
		return errs.Validation(op, "nothing to update")
	}
	if c.FeeAmount != nil && *c.FeeAmount < 0 {
		return errs.Validation(op, "fee cannot be negative")
	}
	if c.Currency != nil && len(strings.TrimSpace(*c.Currency)) != 3 {
		return errs.Validation(op, "currency must be a 3-letter code")
	}
	return nil
}

func validateTeamName(op, name string) error {
	if name == "" {
		return errs.Validation(op, "team name is required")
	}
	if len([]rune(name)) > 60 {
		return errs.Validation(op, "team name is too long")
	}
	return nil
}

func validatePlayers(op string, players []string) error {
	if len(players) != PlayersPerTeam {
		return errs.Validation(op, "a team needs exactly %d players", PlayersPerTeam)
	}
	seen := map[string]bool{}
	for i, p := range players {
		if p == "" {
			return errs.Validation(op, "player %d name is required", i+1)
		}
		k := strings.ToLower(p)
		if seen[k] {
			return errs.Validation(op, "player %q listed twice", p)
		}
		seen[k] = true
	}
	return nil
}

func validateEmail(op, email string) error {
	if email == "" {
		return errs.Validation(op, "contact email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return errs.Validation(op, "contact email is invalid")
	}
	return nil
}

func validatePhone(op, phone string) error {
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < 10 || len(digits) > 15 {
		return errs.Validation(op, "contact number must have 10-15 digits")
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return errs.Validation(op, "contact number must be numeric")
		}
	}
	return nil
}
