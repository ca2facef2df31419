package bot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/gettixvp/newtg/internal/domain"
	"github.com/gettixvp/newtg/internal/usecase/ingest"
)

// Replier отправляет ответы и управляет inline-кнопками.
type Replier interface {
	domain.Messenger
	AnswerCallback(callbackID, text string) error
	ClearKeyboard(chatID int64, messageID int) error
}

// Moderator применяет решение по заявке.
type Moderator interface {
	Moderate(ctx context.Context, moderatorID int64, action domain.ModerationAction, submissionID int64) (domain.Transition, error)
}

// FetchRequester запускает внеплановый сбор.
type FetchRequester interface {
	Request(ctx context.Context, filter domain.IngestFilter) error
}

// Handler обслуживает вебхук бота.
type Handler struct {
	replier   Replier
	moderator Moderator
	fetch     FetchRequester
	webAppURL string
	log       zerolog.Logger
}

// NewHandler создаёт обработчик.
func NewHandler(replier Replier, moderator Moderator, fetch FetchRequester, webAppURL string, log zerolog.Logger) *Handler {
	return &Handler{
		replier:   replier,
		moderator: moderator,
		fetch:     fetch,
		webAppURL: webAppURL,
		log:       log,
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		h.handleMessage(ctx, upd.Message)
	} else if upd.CallbackQuery != nil {
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	chatID := msg.Chat.ID
	switch {
	case strings.HasPrefix(text, "/start"):
		h.handleStart(ctx, chatID)
	case strings.HasPrefix(text, "/help"):
		h.reply(ctx, chatID, helpText, nil)
	case strings.HasPrefix(text, "/cities"):
		h.reply(ctx, chatID, citiesText(), nil)
	case strings.HasPrefix(text, "/fetch"):
		h.handleFetch(ctx, chatID, strings.TrimSpace(strings.TrimPrefix(text, "/fetch")))
	default:
		h.reply(ctx, chatID, "Неизвестная команда. Используйте /help", nil)
	}
}

func (h *Handler) handleStart(ctx context.Context, chatID int64) {
	text := "Привет! Я собираю свежие объявления об аренде квартир и присылаю уведомления о новых."
	var actions []domain.InlineAction
	if link := h.appLink(chatID); link != "" {
		actions = []domain.InlineAction{{Text: "Открыть приложение", URL: link}}
	} else {
		text += "\nИспользуйте /fetch, чтобы запустить поиск."
	}
	h.reply(ctx, chatID, text, actions)
}

func (h *Handler) appLink(chatID int64) string {
	if h.webAppURL == "" {
		return ""
	}
	u, err := url.Parse(h.webAppURL)
	if err != nil {
		h.log.Warn().Err(err).Msg("bot: некорректный WEBAPP_URL")
		return ""
	}
	q := u.Query()
	q.Set("user_id", strconv.FormatInt(chatID, 10))
	u.RawQuery = q.Encode()
	return u.String()
}

func (h *Handler) handleFetch(ctx context.Context, chatID int64, arg string) {
	filter := domain.IngestFilter{RequesterID: strconv.FormatInt(chatID, 10)}
	if arg != "" {
		city, ok := domain.ParseCity(arg)
		if !ok {
			h.reply(ctx, chatID, "Неизвестный город. Список: /cities", nil)
			return
		}
		filter.City = &city
	}
	err := h.fetch.Request(ctx, filter)
	switch {
	case errors.Is(err, ingest.ErrCooldown):
		h.reply(ctx, chatID, "Поиск уже запускался недавно, попробуйте через минуту.", nil)
	case err != nil:
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("bot: не удалось запустить поиск")
		h.reply(ctx, chatID, "Не удалось запустить поиск. Попробуйте позже.", nil)
	default:
		h.reply(ctx, chatID, "Ищу новые объявления. Пришлю сообщение, если найдутся.", nil)
	}
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	action, id, ok := domain.ParseModerationCallback(cb.Data)
	if !ok {
		h.answer(cb.ID, "Неизвестное действие")
		return
	}
	var moderatorID int64
	if cb.From != nil {
		moderatorID = cb.From.ID
	}
	log := h.log.With().Int64("submission_id", id).Str("action", string(action)).Int64("from", moderatorID).Logger()

	tr, err := h.moderator.Moderate(ctx, moderatorID, action, id)
	switch {
	case errors.Is(err, domain.ErrNotModerator):
		log.Warn().Msg("bot: действие модерации не от модератора")
		h.answer(cb.ID, "Недостаточно прав")
		return
	case errors.Is(err, domain.ErrInvalidTransition):
		h.answer(cb.ID, "Заявка уже обработана")
		h.clearKeyboard(cb, log)
		return
	case errors.Is(err, domain.ErrSubmissionNotFound):
		h.answer(cb.ID, "Заявка не найдена")
		return
	case err != nil:
		log.Error().Err(err).Msg("bot: ошибка модерации")
		h.answer(cb.ID, "Ошибка, попробуйте позже")
		return
	}

	h.answer(cb.ID, "Готово")
	h.clearKeyboard(cb, log)
	if cb.Message != nil && cb.Message.Chat != nil {
		h.reply(ctx, cb.Message.Chat.ID, moderationDoneText(tr), nil)
	}
}

func (h *Handler) clearKeyboard(cb *tgbotapi.CallbackQuery, log zerolog.Logger) {
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	if err := h.replier.ClearKeyboard(cb.Message.Chat.ID, cb.Message.MessageID); err != nil {
		log.Warn().Err(err).Msg("bot: не удалось убрать кнопки")
	}
}

func (h *Handler) answer(callbackID, text string) {
	if err := h.replier.AnswerCallback(callbackID, text); err != nil {
		h.log.Warn().Err(err).Msg("bot: не удалось ответить на callback")
	}
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string, actions []domain.InlineAction) {
	if err := h.replier.Send(ctx, chatID, text, actions); err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("bot: не удалось отправить сообщение")
	}
}

const helpText = `Команды:
/start — открыть приложение
/fetch [город] — найти новые объявления сейчас
/cities — список городов
/help — эта справка`

func citiesText() string {
	var b strings.Builder
	b.WriteString("Доступные города:")
	for _, c := range domain.Cities() {
		b.WriteString(fmt.Sprintf("\n%s — %s", c, c.Title()))
	}
	return b.String()
}

func moderationDoneText(tr domain.Transition) string {
	switch tr.To {
	case domain.SubmissionApproved:
		return fmt.Sprintf("Объявление %d одобрено и опубликовано.", tr.Submission.ID)
	default:
		return fmt.Sprintf("Объявление %d отклонено.", tr.Submission.ID)
	}
}
