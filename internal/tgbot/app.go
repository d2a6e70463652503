// Package tgbot is the organisers' Telegram console: pending proof review,
// team lookup with stage buttons, the registration toggle and the CSV link.
package tgbot

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tourney-registry/internal/config"
	"tourney-registry/internal/errs"
	"tourney-registry/internal/ledger"
	"tourney-registry/internal/models"
	"tourney-registry/internal/notify"
	"tourney-registry/internal/review"
	"tourney-registry/internal/settings"
	"tourney-registry/internal/stages"
	"tourney-registry/internal/util"
)

// API is the part of *tgbotapi.BotAPI the console uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
}

type Services struct {
	Ledger   *ledger.Ledger
	Stages   *stages.Engine
	Review   *review.Queue
	Settings *settings.Store
}

type App struct {
	cfg    config.Config
	bot    API
	svc    Services
	logger *slog.Logger

	// per-admin conversation state (team lookup, reject reason)
	mu    sync.Mutex
	state map[int64]userState
}

type userState struct {
	Flow string
	Data map[string]string
}

const (
	flowFind   = "find_team"
	flowReject = "reject_reason"

	maxProofsShown = 10
)

func New(cfg config.Config, bot API, svc Services, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		cfg:    cfg,
		bot:    bot,
		svc:    svc,
		logger: logger.With("component", "tgbot"),
		state:  map[int64]userState{},
	}
}

func (a *App) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			if upd.Message != nil {
				if err := a.handleMessage(ctx, upd.Message); err != nil {
					a.logger.Error("handle message", "err", err)
				}
			} else if upd.CallbackQuery != nil {
				if err := a.handleCallback(ctx, upd.CallbackQuery); err != nil {
					a.logger.Error("handle callback", "err", err)
				}
			}
		}
	}
}

func (a *App) SendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := a.bot.Send(msg)
	return err
}

func (a *App) isAdmin(tgID int64) bool {
	return a.cfg.AdminTGIDs[tgID]
}

func (a *App) getState(tgID int64) userState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state[tgID]
}

func (a *App) setState(tgID int64, st userState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st.Flow == "" {
		delete(a.state, tgID)
		return
	}
	a.state[tgID] = st
}

// replyErr shows the user-safe part of err. Only unexpected failures are
// returned to the update loop for logging.
func (a *App) replyErr(tgID int64, err error) error {
	if sendErr := a.SendText(tgID, "⚠️ "+errs.Message(err)); sendErr != nil {
		return sendErr
	}
	if errs.KindOf(err) == errs.KindInternal || errs.KindOf(err) == errs.KindUnavailable {
		return err
	}
	return nil
}

// ---------- Message handling ----------

func (a *App) handleMessage(ctx context.Context, m *tgbotapi.Message) error {
	if m.From == nil {
		return nil
	}
	tgID := m.From.ID
	txt := strings.TrimSpace(m.Text)

	if !a.isAdmin(tgID) {
		return a.SendText(tgID, fmt.Sprintf("This bot is the organisers' console for %s. Register at %s",
			a.cfg.TournamentName, a.cfg.PublicURL("/")))
	}

	switch {
	case strings.HasPrefix(txt, "/start"), strings.HasPrefix(txt, "/admin"):
		a.setState(tgID, userState{})
		return a.showAdminMenu(ctx, tgID)
	case strings.HasPrefix(txt, "/team"):
		a.setState(tgID, userState{})
		if number := strings.TrimSpace(strings.TrimPrefix(txt, "/team")); number != "" {
			return a.showTeam(ctx, tgID, number)
		}
		a.setState(tgID, userState{Flow: flowFind})
		return a.SendText(tgID, "Send the team number (e.g. 007):")
	case strings.HasPrefix(txt, "/proofs"):
		return a.showPendingProofs(ctx, tgID)
	case strings.HasPrefix(txt, "/reg"):
		// "/reg" toggles, "/reg open" or "/reg off" sets
		if arg := strings.TrimSpace(strings.TrimPrefix(txt, "/reg")); arg != "" {
			return a.setRegistration(ctx, tgID, util.NormalizeBool(arg))
		}
		return a.toggleRegistration(ctx, tgID)
	}

	st := a.getState(tgID)
	if st.Flow != "" {
		return a.handleFlowInput(ctx, tgID, txt, st)
	}
	return a.showAdminMenu(ctx, tgID)
}

func (a *App) handleFlowInput(ctx context.Context, tgID int64, txt string, st userState) error {
	switch st.Flow {
	case flowFind:
		a.setState(tgID, userState{})
		return a.showTeam(ctx, tgID, txt)
	case flowReject:
		if txt == "" {
			return a.SendText(tgID, "The reason cannot be empty. Send the rejection reason:")
		}
		a.setState(tgID, userState{})
		return a.rejectProof(ctx, tgID, st.Data["proof"], txt)
	default:
		a.setState(tgID, userState{})
		return a.SendText(tgID, "State reset. Send /admin")
	}
}

// ---------- Callback handling ----------

func (a *App) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	tgID := q.From.ID
	data := q.Data

	// ack
	cb := tgbotapi.NewCallback(q.ID, "")
	_, _ = a.bot.Request(cb)

	if !a.isAdmin(tgID) {
		return a.SendText(tgID, "Access denied.")
	}

	switch {
	case strings.HasPrefix(data, "a:"):
		return a.handleAdminCallback(ctx, tgID, data)
	case strings.HasPrefix(data, "p:"):
		return a.handleProofCallback(ctx, tgID, data)
	case strings.HasPrefix(data, "t:"):
		return a.handleTeamCallback(ctx, tgID, data)
	}
	return nil
}

func (a *App) handleAdminCallback(ctx context.Context, tgID int64, data string) error {
	switch data {
	case "a:menu":
		return a.showAdminMenu(ctx, tgID)
	case "a:proofs":
		return a.showPendingProofs(ctx, tgID)
	case "a:find":
		a.setState(tgID, userState{Flow: flowFind})
		return a.SendText(tgID, "Send the team number (e.g. 007):")
	case "a:toggle_reg":
		return a.toggleRegistration(ctx, tgID)
	}

	if strings.HasPrefix(data, "a:export") {
		stage := models.Stage(strings.TrimPrefix(strings.TrimPrefix(data, "a:export"), ":"))
		return a.SendText(tgID, "📤 CSV export (link): "+a.ExportURL(stage))
	}
	return nil
}

func (a *App) handleProofCallback(ctx context.Context, tgID int64, data string) error {
	switch {
	case strings.HasPrefix(data, "p:verify:"):
		id := strings.TrimPrefix(data, "p:verify:")
		team, err := a.svc.Review.Verify(ctx, id, reviewerName(tgID))
		if err != nil {
			return a.replyErr(tgID, err)
		}
		return a.SendText(tgID, fmt.Sprintf("✅ Proof verified. Team #%s %s is enrolled.", team.TeamNumber, team.TeamName))
	case strings.HasPrefix(data, "p:reject:"):
		id := strings.TrimPrefix(data, "p:reject:")
		a.setState(tgID, userState{Flow: flowReject, Data: map[string]string{"proof": id}})
		return a.SendText(tgID, "Send the rejection reason:")
	}
	return nil
}

func (a *App) handleTeamCallback(ctx context.Context, tgID int64, data string) error {
	// t:up:<id> | t:down:<id>
	parts := strings.Split(data, ":")
	if len(parts) != 3 {
		return nil
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil
	}
	var team models.Team
	switch parts[1] {
	case "up":
		team, err = a.svc.Stages.Upgrade(ctx, id)
	case "down":
		team, err = a.svc.Stages.Downgrade(ctx, id)
	default:
		return nil
	}
	if err != nil {
		return a.replyErr(tgID, err)
	}
	return a.sendTeamCard(tgID, team)
}

// ---------- Screens / Menus ----------

func (a *App) showAdminMenu(ctx context.Context, tgID int64) error {
	s, err := a.svc.Settings.Get(ctx)
	if err != nil {
		return a.replyErr(tgID, err)
	}
	counts, err := a.svc.Ledger.CountByStage(ctx)
	if err != nil {
		return a.replyErr(tgID, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🛠 Admin panel · %s\n", a.cfg.TournamentName)
	reg := "closed"
	toggle := "🔓 Open registration"
	if s.RegistrationOpen {
		reg = "open"
		toggle = "🔒 Close registration"
	}
	fmt.Fprintf(&b, "Registration: %s · fee %s %s\n", reg, notify.FormatAmount(s.FeeAmount), s.Currency)
	var total int64
	for _, st := range models.Stages {
		fmt.Fprintf(&b, "%s: %d\n", st, counts[st])
		total += counts[st]
	}
	fmt.Fprintf(&b, "Total: %d", total)

	msg := tgbotapi.NewMessage(tgID, b.String())
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🧾 Pending proofs", "a:proofs"),
			tgbotapi.NewInlineKeyboardButtonData("🔎 Find team", "a:find"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(toggle, "a:toggle_reg"),
			tgbotapi.NewInlineKeyboardButtonData("📤 CSV", "a:export"),
		),
	)
	_, err = a.bot.Send(msg)
	return err
}

func (a *App) showPendingProofs(ctx context.Context, tgID int64) error {
	proofs, err := a.svc.Review.ListByStatus(ctx, models.ProofPending)
	if err != nil {
		return a.replyErr(tgID, err)
	}
	if len(proofs) == 0 {
		return a.SendText(tgID, "No proofs waiting for review.")
	}
	if len(proofs) > maxProofsShown {
		if err := a.SendText(tgID, fmt.Sprintf("%d proofs pending, showing the oldest %d.", len(proofs), maxProofsShown)); err != nil {
			return err
		}
		proofs = proofs[:maxProofsShown]
	}
	for _, p := range proofs {
		text := fmt.Sprintf("🧾 %s\nEmail: %s\nAmount: %s\nUTR: %s\nPayer: %s\nImage: %s\nSubmitted: %s",
			p.TeamName, p.ContactEmail, notify.FormatAmount(p.Amount), p.TransactionReference,
			p.PayerName, p.ProofImage, p.SubmittedAt.Format("2006-01-02 15:04"))
		msg := tgbotapi.NewMessage(tgID, text)
		msg.ReplyMarkup = notify.ProofKeyboard(p.ID)
		if _, err := a.bot.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) showTeam(ctx context.Context, tgID int64, number string) error {
	number = strings.TrimSpace(number)
	if n, err := strconv.ParseInt(number, 10, 64); err == nil {
		number = models.TeamNumber(n)
	}
	team, err := a.svc.Ledger.GetByNumber(ctx, number)
	if err != nil {
		return a.replyErr(tgID, err)
	}
	return a.sendTeamCard(tgID, team)
}

func (a *App) sendTeamCard(tgID int64, t models.Team) error {
	text := fmt.Sprintf("🏁 Team #%s %s\nStage: %s\nPlayers: %s\nContact: %s · %s\nPaid: %s via %s (%s)",
		t.TeamNumber, t.TeamName, t.Stage, strings.Join(t.Players, ", "),
		t.ContactEmail, t.ContactNumber, notify.FormatAmount(t.AmountPaid), t.PaymentMethod, t.PaymentReference)
	msg := tgbotapi.NewMessage(tgID, text)

	row := []tgbotapi.InlineKeyboardButton{}
	if _, ok := t.Stage.Prev(); ok {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("⬇️ Downgrade", fmt.Sprintf("t:down:%d", t.TeamID)))
	}
	if _, ok := t.Stage.Next(); ok {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("⬆️ Upgrade", fmt.Sprintf("t:up:%d", t.TeamID)))
	}
	rows := [][]tgbotapi.InlineKeyboardButton{}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🏠 Menu", "a:menu"),
	))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	_, err := a.bot.Send(msg)
	return err
}

// ---------- Actions ----------

func (a *App) rejectProof(ctx context.Context, tgID int64, proofID, reason string) error {
	p, err := a.svc.Review.Reject(ctx, proofID, reviewerName(tgID), reason)
	if err != nil {
		return a.replyErr(tgID, err)
	}
	return a.SendText(tgID, fmt.Sprintf("❌ Proof from %s rejected.", p.TeamName))
}

func (a *App) toggleRegistration(ctx context.Context, tgID int64) error {
	s, err := a.svc.Settings.Get(ctx)
	if err != nil {
		return a.replyErr(tgID, err)
	}
	return a.setRegistration(ctx, tgID, !s.RegistrationOpen)
}

func (a *App) setRegistration(ctx context.Context, tgID int64, open bool) error {
	if _, err := a.svc.Settings.Update(ctx, models.UpdateSettingsCommand{RegistrationOpen: &open}); err != nil {
		return a.replyErr(tgID, err)
	}
	a.logger.Info("registration toggled", "open", open, "by", tgID)
	if open {
		return a.SendText(tgID, "✅ Registration is open")
	}
	return a.SendText(tgID, "✅ Registration is closed")
}

// ExportURL is the tokenized CSV download link for stage ("" for all teams).
func (a *App) ExportURL(stage models.Stage) string {
	q := url.Values{}
	if stage != "" {
		q.Set("stage", string(stage))
	}
	q.Set("token", ledger.ExportToken(a.cfg.AdminToken, stage))
	return a.cfg.PublicURL("/export/teams.csv?" + q.Encode())
}

func reviewerName(tgID int64) string {
	return "tg:" + strconv.FormatInt(tgID, 10)
}
