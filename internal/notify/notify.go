// Package notify tells organisers about registrations and proofs waiting for
// review. Delivery is best effort: failures are logged and never reach the
// caller.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tourney-registry/internal/models"
)

type Notifier interface {
	TeamRegistered(ctx context.Context, t models.Team)
	ProofSubmitted(ctx context.Context, p models.PaymentProof)
	ProofRejected(ctx context.Context, p models.PaymentProof)
}

// Nop drops every notification. Used when no bot token is configured.
type Nop struct{}

func (Nop) TeamRegistered(context.Context, models.Team)         {}
func (Nop) ProofSubmitted(context.Context, models.PaymentProof) {}
func (Nop) ProofRejected(context.Context, models.PaymentProof)  {}

// Sender is the part of *tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram messages every admin chat id.
type Telegram struct {
	sender Sender
	admins []int64
	logger *slog.Logger
}

func NewTelegram(sender Sender, admins map[int64]bool, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	ids := make([]int64, 0, len(admins))
	for id, ok := range admins {
		if ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return &Telegram{sender: sender, admins: ids, logger: logger.With("component", "notify")}
}

func (n *Telegram) TeamRegistered(_ context.Context, t models.Team) {
	text := fmt.Sprintf("✅ Team #%s registered\n%s\n%s · %s\nPlayers: %s",
		t.TeamNumber, t.TeamName, t.ContactEmail, t.PaymentMethod, strings.Join(t.Players, ", "))
	n.broadcast(text, nil)
}

func (n *Telegram) ProofSubmitted(_ context.Context, p models.PaymentProof) {
	text := fmt.Sprintf("🧾 New payment proof\nTeam: %s\nEmail: %s\nAmount: %s\nUTR: %s\nPayer: %s\nImage: %s",
		p.TeamName, p.ContactEmail, FormatAmount(p.Amount), p.TransactionReference, p.PayerName, p.ProofImage)
	kb := ProofKeyboard(p.ID)
	n.broadcast(text, &kb)
}

func (n *Telegram) ProofRejected(_ context.Context, p models.PaymentProof) {
	text := fmt.Sprintf("❌ Proof rejected\nTeam: %s\nUTR: %s\nReason: %s\nBy: %s",
		p.TeamName, p.TransactionReference, p.RejectionReason, p.ReviewedBy)
	n.broadcast(text, nil)
}

func (n *Telegram) broadcast(text string, kb *tgbotapi.InlineKeyboardMarkup) {
	for _, id := range n.admins {
		msg := tgbotapi.NewMessage(id, text)
		if kb != nil {
			msg.ReplyMarkup = *kb
		}
		if _, err := n.sender.Send(msg); err != nil {
			n.logger.Warn("telegram send failed", "chat_id", id, "err", err)
		}
	}
}

// ProofKeyboard is the verify/reject button row attached to a pending proof.
func ProofKeyboard(proofID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Verify", "p:verify:"+proofID),
			tgbotapi.NewInlineKeyboardButtonData("❌ Reject", "p:reject:"+proofID),
		),
	)
}

// FormatAmount renders minor units as "500.00".
func FormatAmount(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}
