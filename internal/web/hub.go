package web

import (
	"fmt"
	"html"
	"sync"

	"github.com/google/uuid"

	"github.com/radvoogh/william/internal/ui"
)

// Hub is a ui.Emitter that renders events as HTML fragments and broadcasts
// them to SSE subscribers. Late joiners receive the buffered history first.
type Hub struct {
	mu          sync.Mutex
	events      []string
	subscribers map[string]chan string
	lastFrame   *ui.Frame
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]chan string)}
}

// Subscribe returns the buffered history, a channel of future fragments, and
// an unsubscribe function.
func (h *Hub) Subscribe() ([]string, <-chan string, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	snapshot := make([]string, len(h.events))
	copy(snapshot, h.events)

	id := uuid.NewString()
	ch := make(chan string, 64)
	h.subscribers[id] = ch

	unsub := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subscribers[id]; ok {
			delete(h.subscribers, id)
			close(sub)
		}
	}
	return snapshot, ch, unsub
}

// LastFrame returns the most recent dashboard frame, if any.
func (h *Hub) LastFrame() *ui.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastFrame == nil {
		return nil
	}
	f := *h.lastFrame
	return &f
}

func (h *Hub) publish(fragment string) {
	if fragment == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, fragment)
	for _, sub := range h.subscribers {
		select {
		case sub <- fragment:
		default:
			// Drop if subscriber is slow.
		}
	}
}

func (h *Hub) System(text string) {
	h.publish(fmt.Sprintf(`<div class="event event-system">%s</div>`, html.EscapeString(text)))
}

func (h *Hub) AssistantText(text string) {
	if text == "" {
		return
	}
	h.publish(fmt.Sprintf(`<div class="event event-text">%s</div>`, html.EscapeString(text)))
}

func (h *Hub) Error(text string) {
	h.publish(fmt.Sprintf(`<div class="event event-error">%s</div>`, html.EscapeString(text)))
}

func (h *Hub) ToolCall(name, summary string) {
	h.publish(fmt.Sprintf(`<div class="event event-tool">tool: %s <span class="tool-io">%s</span></div>`,
		html.EscapeString(name), html.EscapeString(summary)))
}

func (h *Hub) ThinkingStart() {}
func (h *Hub) ThinkingStop()  {}

func (h *Hub) Result(costUSD float64, inputTokens, outputTokens, durationMS int) {
	h.publish(fmt.Sprintf(`<div class="event event-result">cost $%.4f · %d/%d tokens · %.1fs</div>`,
		costUSD, inputTokens, outputTokens, float64(durationMS)/1000))
}

func (h *Hub) DashboardUpdate(f ui.Frame) {
	h.mu.Lock()
	h.lastFrame = &f
	h.mu.Unlock()
}

func (h *Hub) StoryStart(id, title string) {
	h.publish(fmt.Sprintf(`<div class="event event-story">▶ %s: %s</div>`,
		html.EscapeString(id), html.EscapeString(title)))
}

func (h *Hub) StoryComplete(id, title string) {
	h.publish(fmt.Sprintf(`<div class="event event-story passed">✓ %s: %s</div>`,
		html.EscapeString(id), html.EscapeString(title)))
}

func (h *Hub) StorySkipped(id, title string) {
	h.publish(fmt.Sprintf(`<div class="event event-story skipped">⊘ %s: %s</div>`,
		html.EscapeString(id), html.EscapeString(title)))
}
