package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"tourney-registry/internal/errs"
	"tourney-registry/internal/models"
	"tourney-registry/internal/payments"
	"tourney-registry/internal/testutil"
)

func paid(ref string) payments.VerificationResult {
	return payments.VerificationResult{Status: payments.StatusSuccess, Reference: ref, Amount: testutil.Fee}
}

func newLedger(t *testing.T) *Ledger {
	return New(testutil.NewDB(t), nil)
}

func TestAllocateAndCreateThenDuplicate(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	team, err := l.AllocateAndCreate(ctx, testutil.Registration("A@x.com"), paid("pay_1"))
	require.NoError(t, err)
	require.Equal(t, int64(1), team.TeamID)
	require.Equal(t, "001", team.TeamNumber)
	require.Equal(t, "a@x.com", team.ContactEmail)
	require.Equal(t, models.StageEnrolled, team.Stage)
	require.Equal(t, models.PaymentCompleted, team.PaymentStatus)
	require.Equal(t, "pay_1", team.PaymentReference)

	_, err = l.AllocateAndCreate(ctx, testutil.Registration("a@x.com"), paid("pay_2"))
	require.ErrorIs(t, err, errs.ErrDuplicateRegistration)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, team.TeamID, e.TeamID)
	require.Equal(t, "001", e.TeamNumber)

	all, err := l.List(ctx, ListFilter{}, DefaultSort)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestAllocateRejectsReusedPaymentReference(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	first, err := l.AllocateAndCreate(ctx, testutil.Registration("a@x.com"), paid("pay_1"))
	require.NoError(t, err)

	_, err = l.AllocateAndCreate(ctx, testutil.Registration("b@x.com"), paid("pay_1"))
	require.ErrorIs(t, err, errs.ErrDuplicateRegistration)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, first.TeamID, e.TeamID)
}

func TestAllocateRejectsBeforeWriting(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	cases := map[string]payments.VerificationResult{
		"pending":      {Status: payments.StatusPending, Reference: "p", Amount: testutil.Fee},
		"failed":       {Status: payments.StatusFailed, Reference: "p", Amount: testutil.Fee},
		"no reference": {Status: payments.StatusSuccess, Amount: testutil.Fee},
		"underpaid":    {Status: payments.StatusSuccess, Reference: "p", Amount: testutil.Fee - 1},
	}
	for name, vr := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := l.AllocateAndCreate(ctx, testutil.Registration("a@x.com"), vr)
			require.ErrorIs(t, err, errs.ErrValidation)
		})
	}

	bad := testutil.Registration("a@x.com")
	bad.Players = bad.Players[:3]
	_, err := l.AllocateAndCreate(ctx, bad, paid("pay_1"))
	require.ErrorIs(t, err, errs.ErrValidation)

	// none of the rejected calls consumed an id
	team, err := l.AllocateAndCreate(ctx, testutil.Registration("a@x.com"), paid("pay_1"))
	require.NoError(t, err)
	require.Equal(t, int64(1), team.TeamID)
}

func TestConcurrentAllocationIsUnique(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	const n = 24
	var wg sync.WaitGroup
	ids := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			email := fmt.Sprintf("team%d@x.com", i)
			team, err := l.AllocateAndCreate(ctx, testutil.Registration(email), paid(fmt.Sprintf("pay_%d", i)))
			if err != nil {
				t.Errorf("allocate %s: %v", email, err)
				return
			}
			ids <- team.TeamID
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := map[int64]bool{}
	for id := range ids {
		require.False(t, seen[id], "team id %d allocated twice", id)
		seen[id] = true
	}
	require.Len(t, seen, n)
	for id := int64(1); id <= n; id++ {
		require.True(t, seen[id])
	}
}

func TestConcurrentSameEmailAcceptsOne(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	const n = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	var accepted, duplicates int
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.AllocateAndCreate(ctx, testutil.Registration("race@x.com"), paid(fmt.Sprintf("pay_%d", i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errs.KindOf(err) == errs.KindDuplicateRegistration, errs.KindOf(err) == errs.KindAllocationConflict:
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, accepted)
	require.Equal(t, n-1, duplicates)

	var count int64
	require.NoError(t, l.db.Model(&models.Team{}).Where("contact_email = ?", "race@x.com").Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestUpdateKeepsImmutableFields(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	team, err := l.AllocateAndCreate(ctx, testutil.Registration("a@x.com"), paid("pay_1"))
	require.NoError(t, err)

	name := "  Night Owls "
	email := "Owls@X.com"
	updated, err := l.Update(ctx, team.TeamID, models.EditTeamCommand{TeamName: &name, ContactEmail: &email})
	require.NoError(t, err)
	require.Equal(t, "Night Owls", updated.TeamName)
	require.Equal(t, "owls@x.com", updated.ContactEmail)

	got, err := l.GetByID(ctx, team.TeamID)
	require.NoError(t, err)
	require.Equal(t, team.TeamID, got.TeamID)
	require.Equal(t, team.TeamNumber, got.TeamNumber)
	require.True(t, team.RegisteredAt.Equal(got.RegisteredAt))
	require.Equal(t, "Night Owls", got.TeamName)
	require.Equal(t, team.Players, got.Players)

	_, err = l.GetByEmail(ctx, "a@x.com")
	require.ErrorIs(t, err, errs.ErrUnknownEntity)
	_, err = l.GetByEmail(ctx, " OWLS@x.com")
	require.NoError(t, err)
}

func TestUpdateErrors(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	a, err := l.AllocateAndCreate(ctx, testutil.Registration("a@x.com"), paid("pay_1"))
	require.NoError(t, err)
	_, err = l.AllocateAndCreate(ctx, testutil.Registration("b@x.com"), paid("pay_2"))
	require.NoError(t, err)

	name := "Ghosts"
	_, err = l.Update(ctx, 99, models.EditTeamCommand{TeamName: &name})
	require.ErrorIs(t, err, errs.ErrUnknownEntity)

	_, err = l.Update(ctx, a.TeamID, models.EditTeamCommand{})
	require.ErrorIs(t, err, errs.ErrValidation)

	taken := "b@x.com"
	_, err = l.Update(ctx, a.TeamID, models.EditTeamCommand{ContactEmail: &taken})
	require.ErrorIs(t, err, errs.ErrDuplicateRegistration)
}

func TestDeleteDoesNotRecycleIDs(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	a, err := l.AllocateAndCreate(ctx, testutil.Registration("a@x.com"), paid("pay_1"))
	require.NoError(t, err)

	require.NoError(t, l.Delete(ctx, a.TeamID))
	require.ErrorIs(t, l.Delete(ctx, a.TeamID), errs.ErrUnknownEntity)
	_, err = l.GetByID(ctx, a.TeamID)
	require.ErrorIs(t, err, errs.ErrUnknownEntity)

	// the email is free again but the id is not
	b, err := l.AllocateAndCreate(ctx, testutil.Registration("a@x.com"), paid("pay_2"))
	require.NoError(t, err)
	require.Equal(t, int64(2), b.TeamID)
	require.Equal(t, "002", b.TeamNumber)
}

func TestMutationsWriteOutboxEvents(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	a, err := l.AllocateAndCreate(ctx, testutil.Registration("a@x.com"), paid("pay_1"))
	require.NoError(t, err)
	_, err = l.SetStage(ctx, a.TeamID, nil, models.StageFinals)
	require.NoError(t, err)
	require.NoError(t, l.Delete(ctx, a.TeamID))

	var events []models.OutboxEvent
	require.NoError(t, l.db.Order("id").Find(&events).Error)
	require.Len(t, events, 3)
	require.Equal(t, models.OpUpsert, events[0].Op)
	require.Equal(t, models.OpUpsert, events[1].Op)
	require.Contains(t, string(events[1].Payload), `"stage":"finals"`)
	require.Equal(t, models.OpDelete, events[2].Op)
	for _, e := range events {
		require.Equal(t, a.TeamID, e.EntityID)
		require.False(t, e.Processed)
	}
}

func TestSetStageIsConditional(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	a, err := l.AllocateAndCreate(ctx, testutil.Registration("a@x.com"), paid("pay_1"))
	require.NoError(t, err)

	from := models.StageQuarterFinals
	_, err = l.SetStage(ctx, a.TeamID, &from, models.StageSemiFinals)
	require.ErrorIs(t, err, errs.ErrAllocationConflict)
	require.True(t, errs.Retryable(err))

	got, err := l.GetByID(ctx, a.TeamID)
	require.NoError(t, err)
	require.Equal(t, models.StageEnrolled, got.Stage)

	_, err = l.SetStage(ctx, 42, nil, models.StageFinals)
	require.ErrorIs(t, err, errs.ErrUnknownEntity)
	_, err = l.SetStage(ctx, a.TeamID, nil, models.Stage("groups"))
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestListFilterAndSort(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	for i, email := range []string{"alpha@x.com", "bravo@x.com", "charlie@y.com"} {
		_, err := l.AllocateAndCreate(ctx, testutil.Registration(email), paid(fmt.Sprintf("pay_%d", i)))
		require.NoError(t, err)
	}
	_, err := l.SetStage(ctx, 2, nil, models.StageSemiFinals)
	require.NoError(t, err)

	byID, err := l.List(ctx, ListFilter{}, ListSort{Field: SortTeamID})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, teamIDs(byID))

	byIDDesc, err := l.List(ctx, ListFilter{}, ListSort{Field: SortTeamID, Desc: true})
	require.NoError(t, err)
	require.Equal(t, []int64{3, 2, 1}, teamIDs(byIDDesc))

	newest, err := l.List(ctx, ListFilter{}, DefaultSort)
	require.NoError(t, err)
	require.Equal(t, []int64{3, 2, 1}, teamIDs(newest))

	semis, err := l.List(ctx, ListFilter{Stage: models.StageSemiFinals}, DefaultSort)
	require.NoError(t, err)
	require.Equal(t, []int64{2}, teamIDs(semis))

	byDomain, err := l.List(ctx, ListFilter{Query: "@Y.COM"}, DefaultSort)
	require.NoError(t, err)
	require.Equal(t, []int64{3}, teamIDs(byDomain))

	byNumber, err := l.List(ctx, ListFilter{Query: "002"}, DefaultSort)
	require.NoError(t, err)
	require.Equal(t, []int64{2}, teamIDs(byNumber))

	byName, err := l.List(ctx, ListFilter{Query: "team bravo"}, DefaultSort)
	require.NoError(t, err)
	require.Equal(t, []int64{2}, teamIDs(byName))

	none, err := l.List(ctx, ListFilter{Query: "100%"}, DefaultSort)
	require.NoError(t, err)
	require.Empty(t, none)

	_, err = l.List(ctx, ListFilter{Stage: "groups"}, DefaultSort)
	require.ErrorIs(t, err, errs.ErrValidation)

	counts, err := l.CountByStage(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), counts[models.StageEnrolled])
	require.Equal(t, int64(1), counts[models.StageSemiFinals])
	require.Equal(t, int64(0), counts[models.StageChampion])
}

func TestParseSort(t *testing.T) {
	s, err := ParseSort("", "")
	require.NoError(t, err)
	require.Equal(t, DefaultSort, s)

	s, err = ParseSort("teamId", "asc")
	require.NoError(t, err)
	require.Equal(t, ListSort{Field: SortTeamID}, s)

	_, err = ParseSort("teamName", "")
	require.ErrorIs(t, err, errs.ErrValidation)
	_, err = ParseSort("teamId", "up")
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestBuildCSV(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	reg := testutil.Registration("a@x.com")
	reg.TeamName = "Owls, Inc"
	_, err := l.AllocateAndCreate(ctx, reg, paid("pay_1"))
	require.NoError(t, err)

	out, err := l.BuildCSV(ctx, "")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, csvHeader, lines[0])
	require.True(t, strings.HasPrefix(lines[1], `1,001,"Owls, Inc",Asha,Ben,Chitra,Dev,a@x.com,`))

	out, err = l.BuildCSV(ctx, models.StageFinals)
	require.NoError(t, err)
	require.Equal(t, csvHeader+"\n", out)

	require.Equal(t, ExportToken("s", models.StageFinals), ExportToken("s", models.StageFinals))
	require.NotEqual(t, ExportToken("s", models.StageFinals), ExportToken("s", ""))
}

func teamIDs(teams []models.Team) []int64 {
	out := make([]int64, len(teams))
	for i, t := range teams {
		out[i] = t.TeamID
	}
	return out
}
