package sheets

import (
	"context"
	"fmt"

	sheetsv4 "google.golang.org/api/sheets/v4"
)

const SheetTeams = "Teams"

func (c *Client) readAll(ctx context.Context, sheet string) ([][]interface{}, error) {
	resp, err := c.srv.Spreadsheets.Values.Get(c.spreadsheetID, sheet+"!A:Z").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (c *Client) appendRow(ctx context.Context, sheet string, row []interface{}) error {
	vr := &sheetsv4.ValueRange{Values: [][]interface{}{row}}
	_, err := c.srv.Spreadsheets.Values.Append(c.spreadsheetID, sheet+"!A:Z", vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

// updateRow overwrites row rowNum (1-based) starting at column A.
func (c *Client) updateRow(ctx context.Context, sheet string, rowNum int, row []interface{}) error {
	vr := &sheetsv4.ValueRange{Values: [][]interface{}{row}}
	a1 := fmt.Sprintf("%s!A%d:%s%d", sheet, rowNum, column(len(row)), rowNum)
	_, err := c.srv.Spreadsheets.Values.Update(c.spreadsheetID, a1, vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}

// clearRow blanks a row. Readers skip blank rows.
func (c *Client) clearRow(ctx context.Context, sheet string, rowNum int) error {
	a1 := fmt.Sprintf("%s!A%d:Z%d", sheet, rowNum, rowNum)
	_, err := c.srv.Spreadsheets.Values.Clear(c.spreadsheetID, a1, &sheetsv4.ClearValuesRequest{}).
		Context(ctx).
		Do()
	return err
}

// ---------- helpers ----------

func get(row []interface{}, idx int) string {
	if idx < 0 || idx >= len(row) || row[idx] == nil {
		return ""
	}
	return fmt.Sprint(row[idx])
}

// column returns the letter of the n-th column (1-based, up to Z).
func column(n int) string {
	if n < 1 {
		n = 1
	}
	if n > 26 {
		n = 26
	}
	return string(rune('A' + n - 1))
}
