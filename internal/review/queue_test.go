package review

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"tourney-registry/internal/errs"
	"tourney-registry/internal/ledger"
	"tourney-registry/internal/models"
	"tourney-registry/internal/payments"
	"tourney-registry/internal/payments/manual"
	"tourney-registry/internal/settings"
	"tourney-registry/internal/testutil"
)

type recorder struct {
	mu        sync.Mutex
	submitted []models.PaymentProof
	rejected  []models.PaymentProof
	teams     []models.Team
}

func (r *recorder) TeamRegistered(_ context.Context, t models.Team) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teams = append(r.teams, t)
}

func (r *recorder) ProofSubmitted(_ context.Context, p models.PaymentProof) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, p)
}

func (r *recorder) ProofRejected(_ context.Context, p models.PaymentProof) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, p)
}

type fixture struct {
	q      *Queue
	ledger *ledger.Ledger
	st     *settings.Store
	rec    *recorder
}

func setup(t *testing.T) fixture {
	db := testutil.NewDB(t)
	l := ledger.New(db, nil)
	st := settings.New(db, nil)
	rec := &recorder{}
	return fixture{q: New(db, l, manual.New("cup@upi"), st, rec, nil), ledger: l, st: st, rec: rec}
}

func proofFor(email, utr string) models.SubmitProofCommand {
	return models.SubmitProofCommand{
		RegisterCommand:      testutil.Registration(email),
		TransactionReference: utr,
		Amount:               testutil.Fee,
		ProofImage:           "https://img.example/" + utr + ".png",
		PayerName:            "Asha K",
	}
}

func TestVerifyCreatesTeamThenRejectFails(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	proof, err := f.q.Submit(ctx, proofFor("a@x.com", "UTR123"))
	require.NoError(t, err)
	require.Equal(t, models.ProofPending, proof.Status)
	require.NotEmpty(t, proof.ID)
	require.Equal(t, payments.MethodManual, proof.PaymentMethod)
	require.Len(t, f.rec.submitted, 1)

	team, err := f.q.Verify(ctx, proof.ID, "admin:1")
	require.NoError(t, err)
	require.Equal(t, "UTR123", team.PaymentReference)
	require.Equal(t, models.StageEnrolled, team.Stage)
	require.Equal(t, models.PaymentCompleted, team.PaymentStatus)
	require.Equal(t, []string{"Asha", "Ben", "Chitra", "Dev"}, team.Players)
	require.Equal(t, payments.MethodManual, team.PaymentMethod)
	require.Len(t, f.rec.teams, 1)

	_, err = f.q.Reject(ctx, proof.ID, "admin:2", "duplicate")
	require.ErrorIs(t, err, errs.ErrInvalidTransition)
	_, err = f.q.Verify(ctx, proof.ID, "admin:2")
	require.ErrorIs(t, err, errs.ErrInvalidTransition)

	got, err := f.q.Get(ctx, proof.ID)
	require.NoError(t, err)
	require.Equal(t, models.ProofVerified, got.Status)
	require.Equal(t, "admin:1", got.ReviewedBy)
	require.NotNil(t, got.ResolvedAt)
}

func TestRejectedProofIsTerminal(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	proof, err := f.q.Submit(ctx, proofFor("a@x.com", "UTR9"))
	require.NoError(t, err)

	_, err = f.q.Reject(ctx, proof.ID, "admin", "   ")
	require.ErrorIs(t, err, errs.ErrValidation)

	rejected, err := f.q.Reject(ctx, proof.ID, "admin", "screenshot is blurry")
	require.NoError(t, err)
	require.Equal(t, models.ProofRejected, rejected.Status)
	require.Equal(t, "screenshot is blurry", rejected.RejectionReason)
	require.Len(t, f.rec.rejected, 1)

	_, err = f.q.Verify(ctx, proof.ID, "admin")
	require.ErrorIs(t, err, errs.ErrInvalidTransition)
	_, err = f.q.Reject(ctx, proof.ID, "admin", "again")
	require.ErrorIs(t, err, errs.ErrInvalidTransition)

	_, err = f.ledger.GetByEmail(ctx, "a@x.com")
	require.ErrorIs(t, err, errs.ErrUnknownEntity)

	// a rejected reference may be submitted again
	_, err = f.q.Submit(ctx, proofFor("a@x.com", "UTR9"))
	require.NoError(t, err)
}

func TestVerifyKeepsProofPendingWhenLedgerRefuses(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	first, err := f.q.Submit(ctx, proofFor("a@x.com", "UTR1"))
	require.NoError(t, err)
	second, err := f.q.Submit(ctx, proofFor("a@x.com", "UTR2"))
	require.NoError(t, err)

	_, err = f.q.Verify(ctx, first.ID, "admin")
	require.NoError(t, err)

	_, err = f.q.Verify(ctx, second.ID, "admin")
	require.ErrorIs(t, err, errs.ErrDuplicateRegistration)

	got, err := f.q.Get(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, models.ProofPending, got.Status)
	require.Nil(t, got.ResolvedAt)

	pending, err := f.q.ListByStatus(ctx, models.ProofPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, second.ID, pending[0].ID)
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	cmd := proofFor("a@x.com", "")
	_, err := f.q.Submit(ctx, cmd)
	require.ErrorIs(t, err, errs.ErrValidation)

	cmd = proofFor("a@x.com", "UTR1")
	cmd.Amount = testutil.Fee - 100
	_, err = f.q.Submit(ctx, cmd)
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = f.q.Submit(ctx, proofFor("a@x.com", "UTR1"))
	require.NoError(t, err)
	_, err = f.q.Submit(ctx, proofFor("b@x.com", "UTR1"))
	require.ErrorIs(t, err, errs.ErrValidation)

	closed := false
	_, err = f.st.Update(ctx, models.UpdateSettingsCommand{RegistrationOpen: &closed})
	require.NoError(t, err)
	_, err = f.q.Submit(ctx, proofFor("c@x.com", "UTR3"))
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestSubmitRejectsRegisteredEmail(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	team, err := f.ledger.AllocateAndCreate(ctx, testutil.Registration("a@x.com"),
		payments.VerificationResult{Status: payments.StatusSuccess, Reference: "pay_1", Amount: testutil.Fee})
	require.NoError(t, err)

	_, err = f.q.Submit(ctx, proofFor("A@x.com", "UTR1"))
	require.ErrorIs(t, err, errs.ErrDuplicateRegistration)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, team.TeamID, e.TeamID)
}

func TestUnknownProof(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	_, err := f.q.Verify(ctx, "nope", "admin")
	require.ErrorIs(t, err, errs.ErrUnknownEntity)
	_, err = f.q.Reject(ctx, "nope", "admin", "x")
	require.ErrorIs(t, err, errs.ErrUnknownEntity)
	_, err = f.q.Get(ctx, "nope")
	require.ErrorIs(t, err, errs.ErrUnknownEntity)
	_, err = f.q.ListByStatus(ctx, "approved")
	require.ErrorIs(t, err, errs.ErrValidation)
}
