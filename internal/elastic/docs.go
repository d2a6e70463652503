package elastic

import (
	"time"

	"tourney-registry/internal/models"
)

// TeamDoc is the search document for a team. Contact numbers stay out of the index.
type TeamDoc struct {
	TeamID           int64     `json:"team_id"`
	TeamNumber       string    `json:"team_number"`
	TeamName         string    `json:"team_name"`
	Players          []string  `json:"players"`
	ContactEmail     string    `json:"contact_email"`
	PaymentMethod    string    `json:"payment_method"`
	PaymentReference string    `json:"payment_reference"`
	AmountPaid       int64     `json:"amount_paid"`
	Stage            string    `json:"stage"`
	RegisteredAt     time.Time `json:"registered_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func BuildTeamDoc(t models.Team) TeamDoc {
	return TeamDoc{
		TeamID:           t.TeamID,
		TeamNumber:       t.TeamNumber,
		TeamName:         t.TeamName,
		Players:          t.Players,
		ContactEmail:     t.ContactEmail,
		PaymentMethod:    t.PaymentMethod,
		PaymentReference: t.PaymentReference,
		AmountPaid:       t.AmountPaid,
		Stage:            string(t.Stage),
		RegisteredAt:     t.RegisteredAt,
		UpdatedAt:        t.UpdatedAt,
	}
}
