package serve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	hive "github.com/everbots/hive"
)

// TelegramBot gives operators a chat interface to the host: status queries,
// lifecycle commands, and push notifications for important events. Only user
// ids on the admin list are served.
type TelegramBot struct {
	bot    *tgbotapi.BotAPI
	mgr    *hive.Manager
	admins map[int64]bool
	notify int64
}

// NewTelegramBot creates a TelegramBot connected to the given token.
// notifyChat is the chat id for push notifications; zero disables them.
func NewTelegramBot(token string, mgr *hive.Manager, admins []int64, notifyChat int64) (*TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	bot.Debug = false

	allowed := make(map[int64]bool, len(admins))
	for _, id := range admins {
		allowed[id] = true
	}
	return &TelegramBot{
		bot:    bot,
		mgr:    mgr,
		admins: allowed,
		notify: notifyChat,
	}, nil
}

// Start runs the long-polling loop until ctx is cancelled.
func (t *TelegramBot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.bot.GetUpdatesChan(u)

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			go t.handle(ctx, update)
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return
		}
	}
}

// Notify pushes a message to the configured notification chat.
func (t *TelegramBot) Notify(text string) {
	if t.notify == 0 {
		return
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.notify, text)); err != nil {
		slog.Warn("telegram: notify failed", "error", err)
	}
}

// handle processes a single Telegram update.
func (t *TelegramBot) handle(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.admins[userID] {
		slog.Warn("telegram: rejected non-admin", "user", userID)
		return
	}

	fields := strings.Fields(update.Message.Text)
	cmd := fields[0]
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	var reply string
	switch cmd {
	case "/status":
		reply = t.statusText()
	case "/tenants":
		reply = t.tenantsText()
	case "/start":
		reply = t.lifecycle(ctx, "start", arg, t.mgr.Start)
	case "/stop":
		reply = t.lifecycle(ctx, "stop", arg, t.mgr.Stop)
	case "/restart":
		reply = t.lifecycle(ctx, "restart", arg, t.mgr.Restart)
	case "/help":
		reply = "Commands:\n/status — host summary\n/tenants — tenant list\n/start <id>\n/stop <id>\n/restart <id>"
	default:
		return
	}

	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, reply)); err != nil {
		slog.Warn("telegram: send failed", "error", err)
	}
}

func (t *TelegramBot) statusText() string {
	s := t.mgr.SystemStatus()
	return fmt.Sprintf("Tenants: %d (%d active)\nCredentials: %d (usage %d)",
		s.TotalTenants, s.ActiveTenants, s.CredentialCount, s.CredentialUsage)
}

func (t *TelegramBot) tenantsText() string {
	tenants := t.mgr.Tenants()
	if len(tenants) == 0 {
		return "No tenants."
	}
	var b strings.Builder
	for _, tn := range tenants {
		fmt.Fprintf(&b, "%s — %s", tn.TenantID, tn.Status)
		if tn.Proc != nil {
			fmt.Fprintf(&b, " (pid %d)", tn.Proc.PID)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (t *TelegramBot) lifecycle(ctx context.Context, op, id string, fn func(context.Context, string) error) string {
	if id == "" {
		return fmt.Sprintf("Usage: /%s <tenant-id>", op)
	}
	if err := fn(ctx, id); err != nil {
		return fmt.Sprintf("%s %s failed: %v", op, id, err)
	}
	return fmt.Sprintf("%s %s: ok", op, id)
}
