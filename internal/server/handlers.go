package server

import (
	"context"
	"crypto/hmac"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"tourney-registry/internal/errs"
	"tourney-registry/internal/ledger"
	"tourney-registry/internal/models"
	"tourney-registry/internal/payments"
	"tourney-registry/internal/registration"
	"tourney-registry/internal/util"
)

type handlers struct {
	Deps
	logger *slog.Logger
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "ts": util.NowISO()})
}

// ---------- Registration ----------

type initiateRequest struct {
	Method       string                 `json:"method"`
	Registration models.RegisterCommand `json:"registration"`
}

type hostedVerifyRequest struct {
	Registration models.RegisterCommand `json:"registration"`
	OrderID      string                 `json:"orderId"`
	PaymentID    string                 `json:"paymentId"`
	Signature    string                 `json:"signature"`
}

type asyncStatusRequest struct {
	Registration  models.RegisterCommand `json:"registration"`
	TransactionID string                 `json:"transactionId"`
}

type redirectConfirmRequest struct {
	Registration models.RegisterCommand `json:"registration"`
	SessionID    string                 `json:"sessionId"`
}

func (h *handlers) paymentMethods(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"methods": h.Registration.Methods()})
}

func (h *handlers) initiate(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	started, err := h.Registration.Initiate(c.Request.Context(), req.Method, req.Registration)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"initiation": started})
}

func (h *handlers) hostedVerify(c *gin.Context) {
	var req hostedVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ev := payments.Evidence{OrderID: req.OrderID, PaymentID: req.PaymentID, Signature: req.Signature}
	out, err := h.Registration.Confirm(c.Request.Context(), payments.MethodHosted, req.Registration, ev)
	h.confirmed(c, out, err)
}

// asyncStatus is polled by the client until the status is no longer pending.
func (h *handlers) asyncStatus(c *gin.Context) {
	var req asyncStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ev := payments.Evidence{TransactionID: req.TransactionID}
	out, err := h.Registration.Confirm(c.Request.Context(), payments.MethodAsync, req.Registration, ev)
	h.confirmed(c, out, err)
}

// asyncCallback acknowledges the provider's server push. The registration is
// only confirmed through the client's status poll.
func (h *handlers) asyncCallback(c *gin.Context) {
	body, _ := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
	h.logger.Info("asyncpay callback", "x_verify", c.GetHeader("X-VERIFY"), "raw", string(body))
	ok(c, http.StatusOK, nil)
}

func (h *handlers) redirectConfirm(c *gin.Context) {
	var req redirectConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ev := payments.Evidence{SessionID: req.SessionID}
	out, err := h.Registration.Confirm(c.Request.Context(), payments.MethodRedirect, req.Registration, ev)
	h.confirmed(c, out, err)
}

func (h *handlers) confirmed(c *gin.Context, out registration.Outcome, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusAccepted
	if out.Durability == registration.Persisted {
		status = http.StatusCreated
	}
	ok(c, status, gin.H{"outcome": out})
}

func (h *handlers) lookup(c *gin.Context) {
	email := c.Query("email")
	if strings.TrimSpace(email) == "" {
		h.fail(c, errs.Validation("lookup", "email is required"))
		return
	}
	out, err := h.Registration.Lookup(c.Request.Context(), email)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"outcome": out})
}

func (h *handlers) submitProof(c *gin.Context) {
	var cmd models.SubmitProofCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		badRequest(c, err)
		return
	}
	proof, err := h.Review.Submit(c.Request.Context(), cmd)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"proofId": proof.ID, "status": proof.Status})
}

// ---------- Admin: teams ----------

func teamID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errs.Validation("admin", "team id must be a positive integer")
	}
	return id, nil
}

func (h *handlers) listTeams(c *gin.Context) {
	sort, err := ledger.ParseSort(c.Query("sort"), c.Query("dir"))
	if err != nil {
		h.fail(c, err)
		return
	}
	f := ledger.ListFilter{
		Stage:         models.Stage(c.Query("stage")),
		PaymentStatus: models.PaymentStatus(c.Query("paymentStatus")),
		Query:         c.Query("q"),
	}
	teams, err := h.Ledger.List(c.Request.Context(), f, sort)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"teams": teams, "count": len(teams)})
}

func (h *handlers) getTeam(c *gin.Context) {
	id, err := teamID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	team, err := h.Ledger.GetByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"team": team})
}

func (h *handlers) updateTeam(c *gin.Context) {
	id, err := teamID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var cmd models.EditTeamCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		badRequest(c, err)
		return
	}
	team, err := h.Ledger.Update(c.Request.Context(), id, cmd)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"team": team})
}

func (h *handlers) deleteTeam(c *gin.Context) {
	id, err := teamID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.Ledger.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"teamId": id})
}

func (h *handlers) upgrade(c *gin.Context) {
	h.step(c, h.Stages.Upgrade)
}

func (h *handlers) downgrade(c *gin.Context) {
	h.step(c, h.Stages.Downgrade)
}

func (h *handlers) step(c *gin.Context, move func(ctx context.Context, id int64) (models.Team, error)) {
	id, err := teamID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	team, err := move(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"team": team})
}

func (h *handlers) setStage(c *gin.Context) {
	id, err := teamID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req struct {
		Stage models.Stage `json:"stage"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	team, err := h.Stages.SetStage(c.Request.Context(), id, req.Stage)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"team": team})
}

func (h *handlers) bulkStage(c *gin.Context) {
	var cmd models.BulkStageCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		badRequest(c, err)
		return
	}
	report, err := h.Admin.BulkSetStage(c.Request.Context(), cmd)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"report": report})
}

func (h *handlers) bulkDelete(c *gin.Context) {
	var cmd models.BulkDeleteCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		badRequest(c, err)
		return
	}
	report, err := h.Admin.BulkDelete(c.Request.Context(), cmd)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"report": report})
}

// ---------- Admin: proofs ----------

func reviewer(c *gin.Context) string {
	if name := strings.TrimSpace(c.GetHeader("X-Admin-Name")); name != "" {
		return "api:" + name
	}
	return "api"
}

func (h *handlers) listProofs(c *gin.Context) {
	proofs, err := h.Review.ListByStatus(c.Request.Context(), models.ProofStatus(c.Query("status")))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"proofs": proofs, "count": len(proofs)})
}

func (h *handlers) getProof(c *gin.Context) {
	proof, err := h.Review.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"proof": proof})
}

func (h *handlers) verifyProof(c *gin.Context) {
	team, err := h.Review.Verify(c.Request.Context(), c.Param("id"), reviewer(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"team": team})
}

func (h *handlers) rejectProof(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	proof, err := h.Review.Reject(c.Request.Context(), c.Param("id"), reviewer(c), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"proof": proof})
}

// ---------- Admin: settings & export ----------

func (h *handlers) getSettings(c *gin.Context) {
	s, err := h.Settings.Get(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"settings": s})
}

func (h *handlers) updateSettings(c *gin.Context) {
	var cmd models.UpdateSettingsCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		badRequest(c, err)
		return
	}
	s, err := h.Settings.Update(c.Request.Context(), cmd)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"settings": s})
}

func (h *handlers) exportCSV(c *gin.Context) {
	h.writeCSV(c, models.Stage(c.Query("stage")))
}

func (h *handlers) exportByToken(c *gin.Context) {
	stage := models.Stage(c.Query("stage"))
	token := c.Query("token")
	if token == "" {
		c.String(http.StatusBadRequest, "token required")
		return
	}
	expected := ledger.ExportToken(h.Config.AdminToken, stage)
	if hmac.Equal([]byte(token), []byte(expected)) {
		h.writeCSV(c, stage)
		return
	}
	c.String(http.StatusForbidden, "invalid token")
}

func (h *handlers) writeCSV(c *gin.Context, stage models.Stage) {
	csv, err := h.Ledger.BuildCSV(c.Request.Context(), stage)
	if err != nil {
		h.fail(c, err)
		return
	}
	name := "teams"
	if stage != "" {
		name += "_" + string(stage)
	}
	c.Header("Content-Disposition", `attachment; filename="`+name+`.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(csv))
}
