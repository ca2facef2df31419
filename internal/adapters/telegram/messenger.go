package telegram

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/gettixvp/newtg/internal/domain"
	"github.com/gettixvp/newtg/internal/infra/metrics"
)

// ErrBlocked возвращается, если пользователь заблокировал бота.
var ErrBlocked = errors.New("bot was blocked by the user")

// Sender покрывает методы tgbotapi.BotAPI, нужные для отправки сообщений.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Messenger отправляет сообщения через Bot API.
type Messenger struct {
	bot Sender
}

var _ domain.Messenger = (*Messenger)(nil)

// NewMessenger создаёт отправителя.
func NewMessenger(bot Sender) *Messenger {
	return &Messenger{bot: bot}
}

// Send отправляет текст с необязательными inline-кнопками.
func (m *Messenger) Send(ctx context.Context, chatID int64, text string, actions []domain.InlineAction) error {
	if err := ctx.Err(); err != nil {
		return &domain.NotificationError{ChatID: chatID, Err: err}
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if markup := Keyboard(actions); markup != nil {
		msg.ReplyMarkup = *markup
	}
	start := time.Now()
	_, err := m.bot.Send(msg)
	metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
	if err != nil {
		return &domain.NotificationError{ChatID: chatID, Err: classify(err)}
	}
	return nil
}

// AnswerCallback закрывает индикатор загрузки на кнопке.
func (m *Messenger) AnswerCallback(callbackID, text string) error {
	start := time.Now()
	_, err := m.bot.Request(tgbotapi.NewCallback(callbackID, text))
	metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", "callback", start, err)
	return err
}

// ClearKeyboard убирает кнопки под сообщением.
func (m *Messenger) ClearKeyboard(chatID int64, messageID int) error {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})
	start := time.Now()
	_, err := m.bot.Request(edit)
	metrics.ObserveNetworkRequest("telegram_bot", "edit_markup", strconv.FormatInt(chatID, 10), start, err)
	return err
}

// Keyboard строит разметку: по одной кнопке в ряд.
func Keyboard(actions []domain.InlineAction) *tgbotapi.InlineKeyboardMarkup {
	if len(actions) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(actions))
	for _, a := range actions {
		if a.URL != "" {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(a.Text, a.URL)))
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(a.Text, a.Data)))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func classify(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden {
		return errors.Join(ErrBlocked, err)
	}
	return err
}
