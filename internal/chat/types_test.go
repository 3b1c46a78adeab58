package chat

import "testing"

func TestModelFor(t *testing.T) {
	cfg := AIConfig{Model: "gpt-4o-mini", ImageModel: "gpt-4o"}

	if got := cfg.ModelFor(ModeChat); got != "gpt-4o-mini" {
		t.Errorf("ModelFor(chat) = %q, want gpt-4o-mini", got)
	}
	if got := cfg.ModelFor(ModeImage); got != "gpt-4o" {
		t.Errorf("ModelFor(image) = %q, want gpt-4o", got)
	}

	cfg.ImageModel = ""
	if got := cfg.ModelFor(ModeImage); got != "gpt-4o-mini" {
		t.Errorf("ModelFor(image) without image model = %q, want gpt-4o-mini", got)
	}
}

func TestCloneDoesNotShareSlices(t *testing.T) {
	th := &Thread{
		ID:       "t1",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Chats:    []Turn{{Question: "hi"}},
	}
	cp := th.Clone()
	cp.Messages[0].Content = "changed"
	cp.Chats[0].Answer = "changed"

	if th.Messages[0].Content != "hi" {
		t.Errorf("original message mutated: %q", th.Messages[0].Content)
	}
	if th.Chats[0].Answer != "" {
		t.Errorf("original turn mutated: %q", th.Chats[0].Answer)
	}
}

func TestLastTurn(t *testing.T) {
	th := &Thread{}
	if _, ok := th.LastTurn(); ok {
		t.Fatal("LastTurn on empty thread should report false")
	}
	th.Chats = []Turn{{Question: "a"}, {Question: "b", Answer: "B"}}
	last, ok := th.LastTurn()
	if !ok || last.Question != "b" || last.Answer != "B" {
		t.Errorf("LastTurn = %+v, %v", last, ok)
	}
}
