package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/ashureev/planforge/internal/planwire"
)

func collectEvents(events *[]planwire.Event) Emit {
	return func(ev planwire.Event) error {
		*events = append(*events, ev)
		return nil
	}
}

func eventTypes(events []planwire.Event) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestEngine_StartEmitsDraftAndFirstRound(t *testing.T) {
	e := NewEngine(ScriptedGenerator{}, 5, nil)
	var events []planwire.Event

	if err := e.Start(context.Background(), "Build a fitness agent", collectEvents(&events)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	want := []string{
		planwire.EventStatus,
		planwire.EventDocumentUpdate,
		planwire.EventQuestion,
		planwire.EventQuestion,
	}
	got := eventTypes(events)
	if len(got) != len(want) {
		t.Fatalf("Expected %d events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	doc := events[1].Document
	if doc == nil || doc.Version != 1 || doc.Title != "Build a fitness agent" {
		t.Errorf("Unexpected draft document: %+v", doc)
	}
	q := events[2]
	if q.Progress == nil || q.Progress.Round != 1 || q.Progress.MaxRounds != 5 {
		t.Errorf("Unexpected question progress: %+v", q.Progress)
	}
}

func TestEngine_RespondRevisesAndAdvancesRounds(t *testing.T) {
	e := NewEngine(ScriptedGenerator{}, 5, nil)
	var events []planwire.Event
	if err := e.Start(context.Background(), "Build a fitness agent", collectEvents(&events)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	events = nil
	if err := e.Respond(context.Background(), "wearable data, for athletes", collectEvents(&events)); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	// status, document.update (v2), one round-2 question.
	got := eventTypes(events)
	if len(got) != 3 || got[1] != planwire.EventDocumentUpdate || got[2] != planwire.EventQuestion {
		t.Fatalf("Unexpected events: %v", got)
	}
	if events[1].Document.Version != 2 {
		t.Errorf("Expected version 2, got %d", events[1].Document.Version)
	}
	if events[2].Progress.Round != 2 {
		t.Errorf("Expected round 2, got %d", events[2].Progress.Round)
	}
}

func TestEngine_FinishesWithReadyForApproval(t *testing.T) {
	e := NewEngine(ScriptedGenerator{}, 5, nil)
	var events []planwire.Event
	if err := e.Start(context.Background(), "Build a fitness agent", collectEvents(&events)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The scripted bank has three rounds; answer them all.
	answers := []string{"a1", "a2", "a3"}
	for _, a := range answers {
		events = nil
		if err := e.Respond(context.Background(), a, collectEvents(&events)); err != nil {
			t.Fatalf("Respond(%s) failed: %v", a, err)
		}
	}

	last := events[len(events)-1]
	if last.Type != planwire.EventReadyForApproval {
		t.Errorf("Expected ready_for_approval, got %s", last.Type)
	}
	if !e.Done() {
		t.Error("Expected engine to be done")
	}
	if got := e.Document().Version; got != 4 {
		t.Errorf("Expected version 4 after three revisions, got %d", got)
	}

	if err := e.Respond(context.Background(), "late", collectEvents(&events)); !errors.Is(err, ErrCompleted) {
		t.Errorf("Expected ErrCompleted, got %v", err)
	}
}

func TestEngine_MaxRoundsCapsQuestioning(t *testing.T) {
	e := NewEngine(ScriptedGenerator{}, 1, nil)
	var events []planwire.Event
	if err := e.Start(context.Background(), "p", collectEvents(&events)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	events = nil
	if err := e.Respond(context.Background(), "answer", collectEvents(&events)); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	last := events[len(events)-1]
	if last.Type != planwire.EventReadyForApproval {
		t.Errorf("Expected ready_for_approval after max rounds, got %s", last.Type)
	}
}

func TestEngine_Misuse(t *testing.T) {
	e := NewEngine(ScriptedGenerator{}, 5, nil)
	var events []planwire.Event

	if err := e.Respond(context.Background(), "x", collectEvents(&events)); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted, got %v", err)
	}
	if err := e.Start(context.Background(), "p", collectEvents(&events)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := e.Start(context.Background(), "p", collectEvents(&events)); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}
}

func TestParseTagged(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		wantTitle   string
		wantContent string
	}{
		{
			"both tags",
			"<title>Fitness Agent</title>\n<plan>\n# Fitness Agent\n\nBody\n</plan>",
			"Fitness Agent",
			"# Fitness Agent\n\nBody",
		},
		{
			"missing tags",
			"just prose",
			"Untitled Plan",
			"just prose",
		},
		{
			"empty title falls back",
			"<title>  </title><plan>Body</plan>",
			"Untitled Plan",
			"Body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, content := ParseTagged(tt.response)
			if title != tt.wantTitle {
				t.Errorf("Expected title %q, got %q", tt.wantTitle, title)
			}
			if content != tt.wantContent {
				t.Errorf("Expected content %q, got %q", tt.wantContent, content)
			}
		})
	}
}

func TestTitleFromPrompt(t *testing.T) {
	if got := TitleFromPrompt(""); got != "Untitled Plan" {
		t.Errorf("Expected fallback title, got %q", got)
	}
	if got := TitleFromPrompt("Build an agent that tracks running shoes inventory across many warehouses worldwide"); got != "Build an agent that tracks running shoes inventory" {
		t.Errorf("Unexpected truncated title: %q", got)
	}
}
