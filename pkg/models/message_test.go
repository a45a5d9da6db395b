package models

import (
	"testing"
	"time"
)

func TestNewDirectMessage(t *testing.T) {
	msg := NewDirectMessage("agent-a", "agent-b", map[string]interface{}{"text": "hi"}, MsgDirect, "corr-1")

	if msg.ID == "" {
		t.Error("Expected a generated message ID")
	}
	if msg.From != "agent-a" || msg.To != "agent-b" {
		t.Errorf("Unexpected addressing: from=%s to=%s", msg.From, msg.To)
	}
	if msg.Channel != "" {
		t.Errorf("Direct message should not carry a channel, got %s", msg.Channel)
	}
	if msg.Metadata.CorrelationID != "corr-1" {
		t.Errorf("Expected correlation ID corr-1, got %s", msg.Metadata.CorrelationID)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
}

func TestNewBroadcastMessage(t *testing.T) {
	msg := NewBroadcastMessage("agent-a", "deploys", map[string]interface{}{"env": "prod"}, MsgEvent)

	if msg.Channel != "deploys" {
		t.Errorf("Expected channel deploys, got %s", msg.Channel)
	}
	if msg.To != "" {
		t.Errorf("Broadcast should not carry a recipient, got %s", msg.To)
	}
}

func TestMessageValidate(t *testing.T) {
	t.Run("Valid Message", func(t *testing.T) {
		msg := NewDirectMessage("a", "b", map[string]interface{}{"k": "v"}, MsgDirect, "")
		if err := msg.Validate(); err != nil {
			t.Errorf("Expected valid message, got %v", err)
		}
	})

	t.Run("Missing Sender", func(t *testing.T) {
		msg := NewDirectMessage("", "b", map[string]interface{}{"k": "v"}, MsgDirect, "")
		if err := msg.Validate(); err == nil {
			t.Error("Expected validation error for empty sender")
		}
	})

	t.Run("Missing Type", func(t *testing.T) {
		msg := NewDirectMessage("a", "b", map[string]interface{}{"k": "v"}, "", "")
		if err := msg.Validate(); err == nil {
			t.Error("Expected validation error for empty type")
		}
	})
}

func TestMessageJSONRoundTrip(t *testing.T) {
	msg := NewDirectMessage("a", "b", map[string]interface{}{"n": "1"}, MsgRequest, "corr")

	data, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}
	decoded, err := MessageFromJSON(data)
	if err != nil {
		t.Fatalf("MessageFromJSON failed: %v", err)
	}
	if decoded.ID != msg.ID || decoded.Type != msg.Type || decoded.From != msg.From || decoded.To != msg.To {
		t.Errorf("Round trip mismatch: %+v vs %+v", decoded, msg)
	}
}

func TestMessageTypeClassification(t *testing.T) {
	for _, mt := range []MessageType{MsgDirect, MsgRequest, MsgResponse} {
		if !IsDirectType(mt) {
			t.Errorf("%s should be a direct type", mt)
		}
		if IsBroadcastType(mt) {
			t.Errorf("%s should not be a broadcast type", mt)
		}
	}
	for _, mt := range []MessageType{MsgEvent, MsgStatus, MsgAlert, MsgAnnouncement} {
		if !IsBroadcastType(mt) {
			t.Errorf("%s should be a broadcast type", mt)
		}
	}
}

func TestNewHandoff(t *testing.T) {
	h := NewHandoff("a", "b", map[string]interface{}{"goal": "refactor"}, "load", time.Hour)

	if h.Status != HandoffPending {
		t.Errorf("Expected pending status, got %s", h.Status)
	}
	if !h.ExpiresAt.After(h.Timestamp) {
		t.Error("Expected ExpiresAt after Timestamp")
	}
	got := h.ExpiresAt.Sub(h.Timestamp)
	if got != time.Hour {
		t.Errorf("Expected 1h TTL, got %s", got)
	}
}

func TestHandoffStatusTerminal(t *testing.T) {
	if HandoffPending.IsTerminal() {
		t.Error("Pending must not be terminal")
	}
	for _, s := range []HandoffStatus{HandoffAccepted, HandoffRejected, HandoffExpired} {
		if !s.IsTerminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
}

func TestTierWeight(t *testing.T) {
	t.Run("Standard Tier", func(t *testing.T) {
		tier := SubscriptionTier{Name: "free"}
		if w := tier.Weight(); w != 1 {
			t.Errorf("Expected weight 1, got %d", w)
		}
	})

	t.Run("Priority Tier Default Weight", func(t *testing.T) {
		tier := SubscriptionTier{Name: "pro", PriorityQueue: true}
		if w := tier.Weight(); w != 10 {
			t.Errorf("Expected weight 10, got %d", w)
		}
	})

	t.Run("Priority Tier Explicit Weight", func(t *testing.T) {
		tier := SubscriptionTier{Name: "enterprise", PriorityQueue: true, PriorityWeight: 50}
		if w := tier.Weight(); w != 50 {
			t.Errorf("Expected weight 50, got %d", w)
		}
	})
}

func TestBatchProgressDone(t *testing.T) {
	p := BatchProgress{Total: 3, Completed: 1, Failed: 1}
	if p.Done() {
		t.Error("Progress 2/3 must not be done")
	}
	p.Completed++
	if !p.Done() {
		t.Error("Progress 3/3 must be done")
	}
}
