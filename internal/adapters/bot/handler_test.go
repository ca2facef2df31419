package bot

import (
	"context"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/gettixvp/newtg/internal/domain"
	"github.com/gettixvp/newtg/internal/usecase/ingest"
)

type fakeReplier struct {
	texts   []string
	actions [][]domain.InlineAction
	answers []string
	cleared int
}

func (f *fakeReplier) Send(_ context.Context, _ int64, text string, actions []domain.InlineAction) error {
	f.texts = append(f.texts, text)
	f.actions = append(f.actions, actions)
	return nil
}

func (f *fakeReplier) AnswerCallback(_ string, text string) error {
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeReplier) ClearKeyboard(int64, int) error {
	f.cleared++
	return nil
}

type fakeModerator struct {
	err   error
	calls int
}

func (m *fakeModerator) Moderate(_ context.Context, _ int64, action domain.ModerationAction, id int64) (domain.Transition, error) {
	m.calls++
	if m.err != nil {
		return domain.Transition{}, m.err
	}
	to, _ := action.Target()
	return domain.Transition{Submission: domain.Submission{ID: id, Status: to}, From: domain.SubmissionPending, To: to}, nil
}

type fakeFetch struct {
	filters []domain.IngestFilter
	err     error
}

func (f *fakeFetch) Request(_ context.Context, filter domain.IngestFilter) error {
	f.filters = append(f.filters, filter)
	return f.err
}

func message(text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{Text: text, Chat: &tgbotapi.Chat{ID: 42}}}
}

func callback(data string, from int64) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		Data:    data,
		From:    &tgbotapi.User{ID: from},
		Message: &tgbotapi.Message{MessageID: 9, Chat: &tgbotapi.Chat{ID: from}},
	}}
}

func TestStartAddsWebAppButton(t *testing.T) {
	r := &fakeReplier{}
	h := NewHandler(r, &fakeModerator{}, &fakeFetch{}, "https://app.example.com/", zerolog.Nop())
	h.HandleUpdate(context.Background(), message("/start"))

	if len(r.actions) != 1 || len(r.actions[0]) != 1 {
		t.Fatalf("expected one button, got %+v", r.actions)
	}
	if got := r.actions[0][0].URL; got != "https://app.example.com/?user_id=42" {
		t.Fatalf("unexpected url %s", got)
	}
}

func TestFetchCommand(t *testing.T) {
	r := &fakeReplier{}
	f := &fakeFetch{}
	h := NewHandler(r, &fakeModerator{}, f, "", zerolog.Nop())

	h.HandleUpdate(context.Background(), message("/fetch Brest"))
	if len(f.filters) != 1 || f.filters[0].City == nil || *f.filters[0].City != domain.CityBrest || f.filters[0].RequesterID != "42" {
		t.Fatalf("unexpected filter %+v", f.filters)
	}

	h.HandleUpdate(context.Background(), message("/fetch paris"))
	if len(f.filters) != 1 || !strings.Contains(r.texts[len(r.texts)-1], "Неизвестный город") {
		t.Fatal("unknown city must not start a cycle")
	}

	f.err = ingest.ErrCooldown
	h.HandleUpdate(context.Background(), message("/fetch"))
	if !strings.Contains(r.texts[len(r.texts)-1], "недавно") {
		t.Fatalf("expected cooldown reply, got %q", r.texts[len(r.texts)-1])
	}
}

func TestCallbackApprove(t *testing.T) {
	r := &fakeReplier{}
	m := &fakeModerator{}
	h := NewHandler(r, m, &fakeFetch{}, "", zerolog.Nop())

	h.HandleUpdate(context.Background(), callback("approve_12", 777))
	if m.calls != 1 || r.cleared != 1 {
		t.Fatalf("expected moderation and keyboard removal, calls=%d cleared=%d", m.calls, r.cleared)
	}
	if len(r.texts) != 1 || !strings.Contains(r.texts[0], "12 одобрено") {
		t.Fatalf("unexpected confirmation %v", r.texts)
	}
}

func TestCallbackErrors(t *testing.T) {
	cases := []struct {
		name   string
		data   string
		err    error
		answer string
	}{
		{"garbage", "delete_1", nil, "Неизвестное действие"},
		{"not moderator", "approve_1", domain.ErrNotModerator, "Недостаточно прав"},
		{"already reviewed", "reject_1", domain.ErrInvalidTransition, "Заявка уже обработана"},
		{"not found", "reject_1", domain.ErrSubmissionNotFound, "Заявка не найдена"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := &fakeReplier{}
			h := NewHandler(r, &fakeModerator{err: tc.err}, &fakeFetch{}, "", zerolog.Nop())
			h.HandleUpdate(context.Background(), callback(tc.data, 1))
			if len(r.answers) != 1 || r.answers[0] != tc.answer {
				t.Fatalf("got answers %v, want %q", r.answers, tc.answer)
			}
			if len(r.texts) != 0 {
				t.Fatalf("no confirmation expected, got %v", r.texts)
			}
		})
	}
}
