package ledger

import (
	"context"
	"fmt"
	"strings"

	"tourney-registry/internal/models"
	"tourney-registry/internal/util"
)

const csvHeader = "team_id,team_number,team_name,player_1,player_2,player_3,player_4,contact_email,contact_number,payment_method,payment_reference,amount_paid,stage,registered_at"

// BuildCSV renders the teams in stage (all teams when stage is empty) ordered
// by team id.
func (l *Ledger) BuildCSV(ctx context.Context, stage models.Stage) (string, error) {
	teams, err := l.List(ctx, ListFilter{Stage: stage}, ListSort{Field: SortTeamID})
	if err != nil {
		return "", err
	}

	b := strings.Builder{}
	b.WriteString(csvHeader)
	b.WriteString("\n")
	for _, t := range teams {
		players := make([]string, models.PlayersPerTeam)
		copy(players, t.Players)
		line := fmt.Sprintf("%d,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%d,%s,%s",
			t.TeamID,
			t.TeamNumber,
			util.EscapeCSV(t.TeamName),
			util.EscapeCSV(players[0]),
			util.EscapeCSV(players[1]),
			util.EscapeCSV(players[2]),
			util.EscapeCSV(players[3]),
			util.EscapeCSV(t.ContactEmail),
			util.EscapeCSV(t.ContactNumber),
			util.EscapeCSV(t.PaymentMethod),
			util.EscapeCSV(t.PaymentReference),
			t.AmountPaid,
			t.Stage,
			t.RegisteredAt.UTC().Format("2006-01-02T15:04:05Z"),
		)
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// ExportToken is the HMAC that authorizes a CSV download link for stage.
func ExportToken(secret string, stage models.Stage) string {
	return util.HMACSHA256Hex(secret, "export:"+string(stage))
}
