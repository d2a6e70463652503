package sheets

import (
	"context"
	"strconv"
	"strings"
	"time"

	"tourney-registry/internal/models"
)

var teamHeader = []interface{}{
	"team_id", "team_number", "team_name", "players", "contact_email", "contact_number",
	"payment_method", "payment_reference", "amount_paid", "stage", "registered_at", "updated_at",
}

func (c *Client) Name() string { return "sheets" }

// Prepare writes the header row when the Teams sheet is empty.
func (c *Client) Prepare(ctx context.Context) error {
	values, err := c.readAll(ctx, SheetTeams)
	if err != nil {
		return err
	}
	if len(values) > 0 {
		return nil
	}
	return c.appendRow(ctx, SheetTeams, teamHeader)
}

// Upsert rewrites the team's row, appending one if the team is new.
func (c *Client) Upsert(ctx context.Context, t models.Team) error {
	row := teamRow(t)
	rowNum, err := c.findRow(ctx, t.TeamID)
	if err != nil {
		return err
	}
	if rowNum == 0 {
		return c.appendRow(ctx, SheetTeams, row)
	}
	return c.updateRow(ctx, SheetTeams, rowNum, row)
}

func (c *Client) Delete(ctx context.Context, teamID int64) error {
	rowNum, err := c.findRow(ctx, teamID)
	if err != nil || rowNum == 0 {
		return err
	}
	return c.clearRow(ctx, SheetTeams, rowNum)
}

// findRow returns the 1-based sheet row holding teamID, or 0.
func (c *Client) findRow(ctx context.Context, teamID int64) (int, error) {
	values, err := c.readAll(ctx, SheetTeams)
	if err != nil {
		return 0, err
	}
	want := strconv.FormatInt(teamID, 10)
	// header row at index 0
	for i := 1; i < len(values); i++ {
		if get(values[i], 0) == want {
			return i + 1, nil
		}
	}
	return 0, nil
}

func teamRow(t models.Team) []interface{} {
	return []interface{}{
		strconv.FormatInt(t.TeamID, 10),
		t.TeamNumber,
		t.TeamName,
		strings.Join(t.Players, ", "),
		t.ContactEmail,
		t.ContactNumber,
		t.PaymentMethod,
		t.PaymentReference,
		strconv.FormatInt(t.AmountPaid, 10),
		string(t.Stage),
		t.RegisteredAt.UTC().Format(time.RFC3339),
		t.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
