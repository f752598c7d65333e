package models

import (
	"encoding/json"
	"testing"
)

func TestChatRef_Unmarshal(t *testing.T) {
	cases := map[string]string{
		`"c1"`:                 "c1",
		`{"_id":"c2"}`:         "c2",
		`{"id":"c3","x":1}`:    "c3",
		`{"_id":"c4","id":"x"}`: "c4",
		`null`:                 "",
	}

	for in, want := range cases {
		var ref ChatRef
		if err := json.Unmarshal([]byte(in), &ref); err != nil {
			t.Fatalf("unmarshal %s: %v", in, err)
		}
		if ref.String() != want {
			t.Errorf("unmarshal %s: expected %q, got %q", in, want, ref)
		}
	}

	var ref ChatRef
	if err := json.Unmarshal([]byte(`42`), &ref); err == nil {
		t.Error("expected error for numeric chat reference")
	}
}

func TestMessage_ChatIDFromPopulatedObject(t *testing.T) {
	var m Message
	if err := json.Unmarshal([]byte(`{"id":"m1","chat":{"_id":"c1","name":"General"}}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.ChatID() != "c1" {
		t.Errorf("expected chat c1, got %q", m.ChatID())
	}
}

func TestNewMessagePayload_Forms(t *testing.T) {
	var nested NewMessagePayload
	if err := json.Unmarshal([]byte(`{"message":{"content":"hi","chat":"c1"}}`), &nested); err != nil {
		t.Fatal(err)
	}
	if nested.Message.Content != "hi" || nested.Message.Chat != "c1" {
		t.Errorf("nested form decoded wrong: %+v", nested.Message)
	}

	var inline NewMessagePayload
	if err := json.Unmarshal([]byte(`{"content":"hi","chat":{"_id":"c1"}}`), &inline); err != nil {
		t.Fatal(err)
	}
	if inline.Message.Content != "hi" || inline.Message.Chat != "c1" {
		t.Errorf("inline form decoded wrong: %+v", inline.Message)
	}
}

func TestCallStatus_Terminal(t *testing.T) {
	if CallStatusRinging.Terminal() || CallStatusOngoing.Terminal() {
		t.Error("ringing and ongoing must not be terminal")
	}
	if !CallStatusRejected.Terminal() || !CallStatusEnded.Terminal() {
		t.Error("rejected and ended must be terminal")
	}
}
