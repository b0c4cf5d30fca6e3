package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/grochat/grochat/internal/chat"
	"github.com/grochat/grochat/internal/domain"
)

type fakeLLM struct {
	mu      sync.Mutex
	reply   string
	err     error
	block   chan struct{} // when non-nil, Complete waits until closed
	calls   int
	lastSys string
}

func (f *fakeLLM) Complete(ctx context.Context, model, system, user string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.lastSys = system
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct {
	user     *domain.User
	messages []*domain.Message
	inv      []*domain.InventoryItem
	grocery  []*domain.GroceryItem
}

func (f *fakeStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return f.user, nil
}

func (f *fakeStore) ListMessages(ctx context.Context, roomID int64, limit int) ([]*domain.Message, error) {
	return f.messages, nil
}

func (f *fakeStore) ListInventory(ctx context.Context, userID string) ([]*domain.InventoryItem, error) {
	return f.inv, nil
}

func (f *fakeStore) SearchGroceryItems(ctx context.Context, productName string, limit int) ([]*domain.GroceryItem, error) {
	return f.grocery, nil
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []chat.AIEvent
}

func (p *capturingPublisher) PublishEvent(ev chat.AIEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturingPublisher) waitForEvents(t *testing.T, n int) []chat.AIEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		p.mu.Lock()
		if len(p.events) >= n {
			out := make([]chat.AIEvent, len(p.events))
			copy(out, p.events)
			p.mu.Unlock()
			return out
		}
		p.mu.Unlock()
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d events", n)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestOrchestratorDeliversEvent(t *testing.T) {
	llm := &fakeLLM{reply: `{"narrative":"pantry looks fine","low_stock":[],"healthy":[]}`}
	st := &fakeStore{
		inv: []*domain.InventoryItem{{ProductName: "milk", Stock: 5, SafetyStock: 2}},
	}
	pub := &capturingPublisher{}
	o := NewOrchestrator(llm, st, pub, 5*time.Second, 30)

	o.Schedule(1, "user-a", "how is the pantry")

	events := pub.waitForEvents(t, 1)
	ev := events[0]
	if ev.RoomID != 1 {
		t.Errorf("event room = %d, want 1", ev.RoomID)
	}
	if ev.Kind != string(KindInventoryAnalysis) {
		t.Errorf("event kind = %q, want %q", ev.Kind, KindInventoryAnalysis)
	}
	if !strings.Contains(ev.Narrative, "pantry looks fine") {
		t.Errorf("narrative = %q, want model narrative carried through", ev.Narrative)
	}
	if len(ev.Payload) == 0 {
		t.Error("event payload is empty")
	}
}

func TestOrchestratorRoutesGoalToGenerator(t *testing.T) {
	llm := &fakeLLM{reply: `{"narrative":"plan ready","restock_plan":[]}`}
	st := &fakeStore{}
	pub := &capturingPublisher{}
	o := NewOrchestrator(llm, st, pub, 5*time.Second, 30)

	o.Schedule(1, "user-a", "please restock")

	events := pub.waitForEvents(t, 1)
	if events[0].Kind != string(KindRestockPlan) {
		t.Errorf("event kind = %q, want %q", events[0].Kind, KindRestockPlan)
	}
	if !strings.Contains(llm.lastSys, "Procurement Planner") {
		t.Errorf("restock goal routed to wrong prompt: %q", llm.lastSys[:40])
	}
}

func TestOrchestratorFailurePublishesApology(t *testing.T) {
	llm := &fakeLLM{err: errors.New("upstream unavailable")}
	st := &fakeStore{}
	pub := &capturingPublisher{}
	o := NewOrchestrator(llm, st, pub, 5*time.Second, 30)

	o.Schedule(1, "user-a", "suggest a menu")

	events := pub.waitForEvents(t, 1)
	ev := events[0]
	if ev.Kind != string(KindMenuSuggestions) {
		t.Errorf("failure event kind = %q, want attempted kind %q", ev.Kind, KindMenuSuggestions)
	}
	if !strings.Contains(ev.Narrative, "couldn't finish") {
		t.Errorf("failure narrative = %q, want apology", ev.Narrative)
	}
	if len(ev.Payload) != 0 {
		t.Errorf("failure event carries payload %q, want none", ev.Payload)
	}
}

func TestOrchestratorScheduleDoesNotBlock(t *testing.T) {
	block := make(chan struct{})
	llm := &fakeLLM{reply: `{"narrative":"done"}`, block: block}
	st := &fakeStore{}
	pub := &capturingPublisher{}
	o := NewOrchestrator(llm, st, pub, 5*time.Second, 30)

	// First request occupies the room worker; the rest sit in the queue.
	// Schedule must return promptly regardless.
	done := make(chan struct{})
	go func() {
		for i := 0; i < roomQueueSize+5; i++ {
			o.Schedule(1, "user-a", "analysis please")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Schedule blocked on a full queue")
	}

	close(block)
	pub.waitForEvents(t, 1)
}

func TestOrchestratorSerializesPerRoom(t *testing.T) {
	block := make(chan struct{})
	llm := &fakeLLM{reply: `{"narrative":"done"}`, block: block}
	st := &fakeStore{}
	pub := &capturingPublisher{}
	o := NewOrchestrator(llm, st, pub, 5*time.Second, 30)

	o.Schedule(1, "user-a", "first")
	o.Schedule(1, "user-a", "second")

	// Give the worker a moment: only one request may reach the model while
	// the first is still running.
	time.Sleep(100 * time.Millisecond)
	if got := llm.callCount(); got != 1 {
		t.Fatalf("%d concurrent generations in one room, want 1", got)
	}

	close(block)
	events := pub.waitForEvents(t, 2)
	if len(events) < 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
}
