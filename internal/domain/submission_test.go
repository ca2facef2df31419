package domain

import "testing"

func TestSubmissionStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		from SubmissionStatus
		to   SubmissionStatus
		want bool
	}{
		{name: "pending to approved", from: SubmissionPending, to: SubmissionApproved, want: true},
		{name: "pending to rejected", from: SubmissionPending, to: SubmissionRejected, want: true},
		{name: "pending to pending", from: SubmissionPending, to: SubmissionPending, want: false},
		{name: "approved is final", from: SubmissionApproved, to: SubmissionRejected, want: false},
		{name: "approved twice", from: SubmissionApproved, to: SubmissionApproved, want: false},
		{name: "rejected is final", from: SubmissionRejected, to: SubmissionApproved, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Fatalf("CanTransition(%v -> %v) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestParseModerationCallback(t *testing.T) {
	tests := []struct {
		data   string
		action ModerationAction
		id     int64
		ok     bool
	}{
		{data: "approve_12", action: ActionApprove, id: 12, ok: true},
		{data: "reject_7", action: ActionReject, id: 7, ok: true},
		{data: "approve_", ok: false},
		{data: "approve_-3", ok: false},
		{data: "delete_5", ok: false},
		{data: "approve", ok: false},
		{data: "reject_abc", ok: false},
	}
	for _, tt := range tests {
		action, id, ok := ParseModerationCallback(tt.data)
		if ok != tt.ok || action != tt.action || id != tt.id {
			t.Fatalf("ParseModerationCallback(%q) = (%v, %d, %v), want (%v, %d, %v)", tt.data, action, id, ok, tt.action, tt.id, tt.ok)
		}
	}
}

func TestCallbackDataRoundTrip(t *testing.T) {
	actions := ModeratorActions(42)
	if len(actions) != 2 {
		t.Fatalf("ожидали 2 кнопки, получили %d", len(actions))
	}
	if actions[0].Data != "approve_42" || actions[1].Data != "reject_42" {
		t.Fatalf("неожиданные callback-данные: %+v", actions)
	}
}

func TestSubmissionToAd(t *testing.T) {
	rooms := 2
	s := Submission{ID: 9, City: CityBrest, Price: 300, Rooms: &rooms, Address: "ул. Советская, 1", Images: []string{"uploads/a.jpg", "uploads/b.jpg"}}
	ad := s.ToAd()
	if ad.Link != "user_ad:9" || ad.Source != SourceUser {
		t.Fatalf("неожиданный идентификатор: %+v", ad)
	}
	if ad.Image == nil || *ad.Image != "uploads/a.jpg" {
		t.Fatalf("ожидали первую фотографию в качестве обложки")
	}
	if ad.Description != DescriptionMissing {
		t.Fatalf("ожидали заглушку описания, получили %q", ad.Description)
	}
	if !ad.Persistable() {
		t.Fatalf("одобренная заявка должна сохраняться в каталог")
	}
}
