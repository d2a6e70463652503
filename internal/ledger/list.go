package ledger

import (
	"context"
	"strings"

	"tourney-registry/internal/errs"
	"tourney-registry/internal/models"
)

type SortField string

const (
	SortRegisteredAt SortField = "registeredAt"
	SortTeamID       SortField = "teamId"
)

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	Stage         models.Stage
	PaymentStatus models.PaymentStatus
	// Query is a case-insensitive substring match over team name, team number
	// and contact email.
	Query string
}

// ListSort orders List. The zero value is newest registration first. Ties on
// registration time fall back to team id in the same direction.
type ListSort struct {
	Field SortField
	Desc  bool
}

// DefaultSort is newest registration first.
var DefaultSort = ListSort{Field: SortRegisteredAt, Desc: true}

func ParseSort(field, dir string) (ListSort, error) {
	s := ListSort{Field: SortField(strings.TrimSpace(field))}
	switch s.Field {
	case "":
		s = DefaultSort
	case SortRegisteredAt, SortTeamID:
	default:
		return ListSort{}, errs.Validation("ledger.list", "cannot sort by %q", field)
	}
	switch strings.ToLower(strings.TrimSpace(dir)) {
	case "":
	case "asc":
		s.Desc = false
	case "desc":
		s.Desc = true
	default:
		return ListSort{}, errs.Validation("ledger.list", "sort direction must be asc or desc")
	}
	return s, nil
}

func (l *Ledger) List(ctx context.Context, f ListFilter, s ListSort) ([]models.Team, error) {
	const op = "ledger.list"
	if f.Stage != "" && !f.Stage.Valid() {
		return nil, errs.Validation(op, "unknown stage %q", f.Stage)
	}
	q := l.db.WithContext(ctx).Model(&models.Team{})
	if f.Stage != "" {
		q = q.Where("stage = ?", f.Stage)
	}
	if f.PaymentStatus != "" {
		q = q.Where("payment_status = ?", f.PaymentStatus)
	}
	if term := strings.ToLower(strings.TrimSpace(f.Query)); term != "" {
		like := "%" + escapeLike(term) + "%"
		q = q.Where(`(LOWER(team_name) LIKE ? ESCAPE '\' OR team_number LIKE ? ESCAPE '\' OR contact_email LIKE ? ESCAPE '\')`, like, like, like)
	}

	dir := " ASC"
	if s.Desc {
		dir = " DESC"
	}
	switch s.Field {
	case SortTeamID:
		q = q.Order("team_id" + dir)
	default:
		q = q.Order("registered_at" + dir).Order("team_id" + dir)
	}

	var teams []models.Team
	if err := q.Find(&teams).Error; err != nil {
		return nil, l.classify(op, err)
	}
	return teams, nil
}

// CountByStage returns how many teams sit in each stage.
func (l *Ledger) CountByStage(ctx context.Context) (map[models.Stage]int64, error) {
	var rows []struct {
		Stage models.Stage
		N     int64
	}
	err := l.db.WithContext(ctx).Model(&models.Team{}).
		Select("stage, COUNT(*) AS n").Group("stage").Scan(&rows).Error
	if err != nil {
		return nil, l.classify("ledger.count_by_stage", err)
	}
	out := make(map[models.Stage]int64, len(models.Stages))
	for _, st := range models.Stages {
		out[st] = 0
	}
	for _, r := range rows {
		out[r.Stage] = r.N
	}
	return out, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
