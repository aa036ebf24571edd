package orchestrator

import "testing"

func TestTranscript_NonFinalThenFinalIsOneEntry(t *testing.T) {
	tr := NewTranscript()
	tr.Update(RoleUser, "hel", false)
	tr.Update(RoleUser, "hello wor", false)
	tr.Update(RoleUser, "hello world", true)

	entries := tr.Entries()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Text != "hello world" || !entries[0].IsFinal {
		t.Errorf("Expected final 'hello world', got %+v", entries[0])
	}
}

func TestTranscript_NewSlotAfterFinal(t *testing.T) {
	tr := NewTranscript()
	tr.Update(RoleUser, "first", true)
	tr.Update(RoleUser, "sec", false)
	tr.Update(RoleUser, "second", false)

	entries := tr.Entries()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[1].Text != "second" || entries[1].IsFinal {
		t.Errorf("Expected open 'second', got %+v", entries[1])
	}
}

func TestTranscript_RolesHaveSeparateSlots(t *testing.T) {
	tr := NewTranscript()
	tr.Update(RoleUser, "what's the", false)
	tr.Update(RoleAssistant, "Let me", false)
	tr.Update(RoleUser, "what's the weather", true)
	tr.Update(RoleAssistant, "Let me check.", true)

	entries := tr.Entries()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Role != RoleUser || entries[0].Text != "what's the weather" {
		t.Errorf("Expected user entry first, got %+v", entries[0])
	}
	if entries[1].Role != RoleAssistant || entries[1].Text != "Let me check." {
		t.Errorf("Expected assistant entry second, got %+v", entries[1])
	}
}

func TestTranscript_AppendFinalKeepsOpenSlot(t *testing.T) {
	tr := NewTranscript()
	tr.Update(RoleUser, "um", false)
	tr.AppendFinal(RoleUser, "typed message")
	tr.Update(RoleUser, "um, hi", true)

	entries := tr.Entries()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Text != "um, hi" || entries[1].Text != "typed message" {
		t.Errorf("Unexpected entries %+v", entries)
	}
}

func TestTranscript_Reset(t *testing.T) {
	tr := NewTranscript()
	tr.Update(RoleAssistant, "partial", false)
	tr.Reset()
	if tr.Len() != 0 {
		t.Errorf("Expected empty transcript")
	}
	tr.Update(RoleAssistant, "fresh", false)
	if tr.Len() != 1 {
		t.Errorf("Expected reset to drop the open slot, got %d entries", tr.Len())
	}
}
