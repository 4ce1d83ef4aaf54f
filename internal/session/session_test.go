package session

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition_LegalMoves(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateNew, StateActive, true},
		{StateActive, StateIdle, true},
		{StateActive, StateWaitingAgent, true},
		{StateActive, StateClosed, true},
		{StateIdle, StateActive, true},
		{StateIdle, StateClosed, true},
		{StateWaitingAgent, StateActive, true},
		{StateWaitingAgent, StateClosed, true},

		// Self-transitions always legal.
		{StateActive, StateActive, true},
		{StateClosed, StateClosed, true},

		// Illegal moves.
		{StateNew, StateIdle, false},
		{StateNew, StateClosed, false},
		{StateIdle, StateWaitingAgent, false},
		{StateClosed, StateActive, false},
		{StateClosed, StateNew, false},
		{StateClosed, StateWaitingAgent, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTransition_ClosedIsTerminal(t *testing.T) {
	sess := NewSession("+201001234567", "agent-1")
	sess.State = StateClosed

	err := sess.Transition(StateActive)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if sess.State != StateClosed {
		t.Errorf("state mutated on failed transition: %s", sess.State)
	}
}

func TestTouch_Monotonic(t *testing.T) {
	sess := NewSession("+201001234567", "agent-1")
	future := time.Now().UTC().Add(time.Hour)
	sess.LastActivity = future

	sess.Touch()
	if sess.LastActivity.Before(future) {
		t.Error("Touch moved LastActivity backwards")
	}
}

func TestLastUserMessages(t *testing.T) {
	sess := NewSession("+201001234567", "agent-1")
	sess.Append(Message{Role: RoleUser, Content: "one"})
	sess.Append(Message{Role: RoleAssistant, Content: "reply"})
	sess.Append(Message{Role: RoleUser, Content: "two"})
	sess.Append(Message{Role: RoleUser, Content: "three"})

	got := sess.LastUserMessages(2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Content != "two" || got[1].Content != "three" {
		t.Errorf("want chronological [two three], got [%s %s]", got[0].Content, got[1].Content)
	}
}
