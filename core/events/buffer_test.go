package events

import (
	"testing"

	"nhbescrow/core/types"
)

type plainEvent struct{}

func (plainEvent) EventType() string { return "plain" }

type richEvent struct{}

func (richEvent) EventType() string { return "rich" }

func (richEvent) Event() *types.Event {
	return &types.Event{Type: "rich", Attributes: map[string]string{"k": "v"}}
}

func TestBufferDrain(t *testing.T) {
	var buf Buffer
	buf.Emit(plainEvent{})
	buf.Emit(nil)
	buf.Emit(richEvent{})
	drained := buf.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 events, got %d", len(drained))
	}
	if len(buf.Drain()) != 0 {
		t.Fatalf("drain must empty the buffer")
	}
	buf.Emit(plainEvent{})
	buf.Reset()
	if len(buf.Drain()) != 0 {
		t.Fatalf("reset must discard events")
	}
}

func TestRender(t *testing.T) {
	if got := Render(richEvent{}); got.Attr("k") != "v" {
		t.Fatalf("unexpected render %+v", got)
	}
	if got := Render(plainEvent{}); got.Type != "plain" || got.Attributes == nil {
		t.Fatalf("unexpected render %+v", got)
	}
	if Render(nil) != nil {
		t.Fatalf("nil event renders nil")
	}
}
