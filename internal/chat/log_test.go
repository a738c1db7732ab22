package chat

import (
	"fmt"
	"testing"
)

func TestLogAppendAndSnapshot(t *testing.T) {
	var l messageLog

	l.append(Message{ID: "1", Content: "hello"})
	l.append(Message{ID: "2", Content: "hi"})
	l.append(Message{ID: "3", Content: "how are you?"})

	msgs := l.snapshot()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "hello" {
		t.Errorf("expected first message 'hello', got %q", msgs[0].Content)
	}
	if msgs[1].Content != "hi" {
		t.Errorf("expected second message 'hi', got %q", msgs[1].Content)
	}
	if msgs[2].Content != "how are you?" {
		t.Errorf("expected third message 'how are you?', got %q", msgs[2].Content)
	}
}

func TestLogKeepsEverything(t *testing.T) {
	var l messageLog

	for i := 1; i <= 500; i++ {
		l.append(Message{ID: fmt.Sprintf("m-%d", i)})
	}

	msgs := l.snapshot()
	if len(msgs) != 500 {
		t.Fatalf("expected 500 messages, got %d", len(msgs))
	}
	for i, msg := range msgs {
		expected := fmt.Sprintf("m-%d", i+1)
		if msg.ID != expected {
			t.Fatalf("index %d: expected %q, got %q", i, expected, msg.ID)
		}
	}
}

func TestLogEmptySnapshot(t *testing.T) {
	var l messageLog

	msgs := l.snapshot()
	if msgs == nil {
		t.Fatal("expected non-nil empty slice, got nil")
	}
	if len(msgs) != 0 {
		t.Fatalf("expected 0 messages, got %d", len(msgs))
	}
}

func TestLogSnapshotIsDetached(t *testing.T) {
	var l messageLog
	l.append(Message{ID: "1", Content: "original"})

	snap := l.snapshot()
	snap[0].Content = "changed"
	l.append(Message{ID: "2"})

	again := l.snapshot()
	if again[0].Content != "original" {
		t.Errorf("snapshot mutation leaked into the log: %q", again[0].Content)
	}
	if len(snap) != 1 {
		t.Errorf("earlier snapshot grew to %d entries", len(snap))
	}
	if again[1].ID != "2" || l.len() != 2 {
		t.Errorf("log = %+v, want two entries ending with 2", again)
	}
}
