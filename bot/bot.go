/*
bot.go - Telegram adapter for foremen on site

PURPOSE:
  Lets a foreman register and file completed-work reports from a phone.
  Every mutation goes through ledger.Engine, so a report filed here is
  indistinguishable from one posted to /api/work-reports.

COMMANDS:
  /start <full name>; <position>   Register the sender (foreman id = Telegram user id)
  /works                           Active works with remaining balance
  /report <work_id> <quantity>     File a report dated now
  /help                            Command list

SEE ALSO:
  - ledger/engine.go: CreateReport, RegisterForeman
  - cmd/server/main.go: Started when telegram.token is set
*/
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/stroykontrol/build-report/ledger"
)

type Bot struct {
	api    *tgbotapi.BotAPI
	log    *slog.Logger
	engine *ledger.Engine
	store  ledger.Store
}

func New(api *tgbotapi.BotAPI, log *slog.Logger, engine *ledger.Engine, store ledger.Store) *Bot {
	return &Bot{api: api, log: log, engine: engine, store: store}
}

// Run long-polls Telegram until ctx is cancelled.
func (b *Bot) Run(ctx context.Context, timeoutSec int) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeoutSec
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	b.log.Info("telegram bot started", "username", b.api.Self.UserName)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			if upd.Message != nil {
				b.onMessage(ctx, upd.Message)
			}
		}
	}
}

func (b *Bot) onMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	text := helpText
	if msg.IsCommand() {
		text = b.reply(ctx, sender{ID: msg.From.ID, Username: msg.From.UserName}, msg.Command(), msg.CommandArguments())
	}
	b.send(tgbotapi.NewMessage(msg.Chat.ID, text))
}

func (b *Bot) send(msg tgbotapi.Chattable) {
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send failed", "err", err)
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

type sender struct {
	ID       int64
	Username string
}

const helpText = "Команды:\n" +
	"/start Фамилия Имя; должность - регистрация\n" +
	"/works - список работ\n" +
	"/report <id работы> <объём> - отчёт о выполненной работе"

// reply runs one command and returns the text to send back.
func (b *Bot) reply(ctx context.Context, from sender, command, args string) string {
	switch command {
	case "start":
		return b.start(ctx, from, args)
	case "works":
		return b.works(ctx)
	case "report":
		return b.report(ctx, from, args)
	default:
		return helpText
	}
}

func (b *Bot) start(ctx context.Context, from sender, args string) string {
	name, position, _ := strings.Cut(args, ";")
	name, position = strings.TrimSpace(name), strings.TrimSpace(position)
	if name == "" {
		existing, err := b.store.GetForeman(ctx, ledger.ForemanID(from.ID))
		if err != nil {
			b.log.Error("bot: get foreman", "foreman_id", from.ID, "err", err)
			return errorText(err)
		}
		if existing != nil {
			return fmt.Sprintf("Вы зарегистрированы как %s.\n\n%s", existing.FullName, helpText)
		}
		return "Для регистрации отправьте: /start Фамилия Имя; должность"
	}

	f, err := b.engine.RegisterForeman(ctx, ledger.Foreman{
		ID:       ledger.ForemanID(from.ID),
		FullName: name,
		Position: position,
		Username: from.Username,
		IsActive: true,
	})
	if err != nil {
		return errorText(err)
	}
	return fmt.Sprintf("Готово, %s! Теперь можно отправлять отчёты.\n\n%s", f.FullName, helpText)
}

func (b *Bot) works(ctx context.Context) string {
	works, err := b.store.ListWorks(ctx, true)
	if err != nil {
		b.log.Error("bot: list works", "err", err)
		return errorText(err)
	}
	if len(works) == 0 {
		return "Нет активных работ."
	}
	var sb strings.Builder
	sb.WriteString("Работы (id, остаток):\n")
	for _, w := range works {
		fmt.Fprintf(&sb, "%d. %s: %s %s\n", w.ID, w.Name, w.Balance, w.Unit)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func (b *Bot) report(ctx context.Context, from sender, args string) string {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return "Формат: /report <id работы> <объём>, например /report 3 12,5"
	}
	workID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || workID <= 0 {
		return "Некорректный id работы: " + fields[0]
	}
	// foremen type decimals with a comma
	qty, err := decimal.NewFromString(strings.ReplaceAll(fields[1], ",", "."))
	if err != nil {
		return "Некорректный объём: " + fields[1]
	}

	r, err := b.engine.CreateReport(ctx, ledger.CreateReportInput{
		ForemanID: ledger.ForemanID(from.ID),
		WorkID:    ledger.WorkID(workID),
		Quantity:  qty,
	})
	if err != nil {
		return errorText(err)
	}

	w, err := b.store.GetWork(ctx, r.WorkID)
	if err != nil || w == nil {
		return fmt.Sprintf("Отчёт #%d принят.", r.ID)
	}
	return fmt.Sprintf("Отчёт #%d принят: %s %s, «%s». Остаток: %s %s.",
		r.ID, r.Quantity, w.Unit, w.Name, w.Balance, w.Unit)
}

// errorText turns a ledger error into a message for the foreman.
func errorText(err error) string {
	var balance *ledger.InsufficientBalanceError
	var material *ledger.InsufficientMaterialError
	var input *ledger.InvalidInputError
	switch {
	case errors.As(err, &balance):
		return fmt.Sprintf("Недостаточно остатка по работе «%s»: доступно %s, запрошено %s.",
			balance.WorkName, balance.Available, balance.Requested)
	case errors.As(err, &material):
		return fmt.Sprintf("Недостаточно материала «%s»: доступно %s, требуется %s.",
			material.MaterialName, material.Available, material.Required)
	case errors.As(err, &input):
		return fmt.Sprintf("Некорректные данные (%s): %s.", input.Field, input.Reason)
	}

	switch ledger.KindOf(err) {
	case ledger.KindWorkNotFound:
		return "Работа не найдена. Список работ: /works"
	case ledger.KindForemanNotFound:
		return "Вы не зарегистрированы. Отправьте: /start Фамилия Имя; должность"
	default:
		return "Не удалось сохранить, попробуйте позже."
	}
}
