package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestAudioFromURL_BlankIsAbsent(t *testing.T) {
	if AudioFromURL("   ").Present() {
		t.Fatalf("blank url should not produce audio")
	}
	ref := AudioFromURL(" /audio/1.mp3 ")
	if ref.Kind != AudioURL || ref.URL != "/audio/1.mp3" {
		t.Fatalf("ref=%+v", ref)
	}
}

func TestMessage_CloneCopiesInlineAudio(t *testing.T) {
	data := []byte{1, 2, 3}
	msg := Message{ID: "m1", Role: RoleAssistant, Audio: AudioFromBytes(data, "audio/wav")}
	data[0] = 9
	if msg.Audio.Data[0] != 1 {
		t.Fatalf("AudioFromBytes must copy its input")
	}

	clone := msg.Clone()
	clone.Audio.Data[1] = 7
	if msg.Audio.Data[1] != 2 {
		t.Fatalf("Clone shares audio bytes with the original")
	}
}

func TestMessage_MarshalOmitsAbsentAudio(t *testing.T) {
	msg := NewUserMessage("hello", time.Unix(10, 0).UTC())
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["audio"]; ok {
		t.Fatalf("audio should be omitted, got %s", data)
	}
	if m["role"] != "user" || m["content"] != "hello" || m["id"] == "" {
		t.Fatalf("unexpected payload %s", data)
	}
}

func TestAgentProfile_DefaultAndKnown(t *testing.T) {
	def := NewAgentProfile(" ", "", "")
	if def.Known {
		t.Fatalf("blank profile should fall back to default")
	}
	if def.CompanyKey() != "general" {
		t.Fatalf("default company key=%q", def.CompanyKey())
	}

	agent := NewAgentProfile("Sam", "TechCare Solutions", "calm")
	if !agent.Known {
		t.Fatalf("expected known profile")
	}
	if agent.CompanyKey() != "techcare solutions" {
		t.Fatalf("company key=%q", agent.CompanyKey())
	}
	if agent.DisplayName() != "Sam - TechCare Solutions" {
		t.Fatalf("display=%q", agent.DisplayName())
	}
}

func TestConversation_VisibleMessagesSkipsSystem(t *testing.T) {
	conv := Conversation{Messages: []Message{
		{ID: "1", Role: RoleSystem, Content: "prompt"},
		{ID: "2", Role: RoleUser, Content: "hi"},
		{ID: "3", Role: RoleAssistant, Content: "hello"},
	}}
	got := conv.VisibleMessages()
	if len(got) != 2 || got[0].ID != "2" || got[1].ID != "3" {
		t.Fatalf("visible=%+v", got)
	}
	if len(conv.Messages) != 3 {
		t.Fatalf("VisibleMessages mutated the conversation")
	}
}
