package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/grochat/grochat/internal/chat"
	"github.com/grochat/grochat/internal/domain"
)

// Store is the subset of persistence the orchestrator reads when gathering
// generation inputs.
type Store interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	ListMessages(ctx context.Context, roomID int64, limit int) ([]*domain.Message, error)
	ListInventory(ctx context.Context, userID string) ([]*domain.InventoryItem, error)
	SearchGroceryItems(ctx context.Context, productName string, limit int) ([]*domain.GroceryItem, error)
}

// Publisher fans generated events out to room members.
type Publisher interface {
	PublishEvent(ev chat.AIEvent)
}

// State tags one in-flight generation request's lifecycle position.
type State string

// Request lifecycle states. There are no retries: a failed request ends
// there, and any retry is a fresh Schedule call.
const (
	StateScheduled State = "scheduled"
	StateRunning   State = "running"
	StateDelivered State = "delivered"
	StateFailed    State = "failed"
)

// pendingGeneration is one in-flight AI request. The record lives from
// Schedule until its terminal state.
type pendingGeneration struct {
	roomID     int64
	userID     string
	goal       string
	kind       Kind
	state      State
	enqueuedAt time.Time
}

const (
	roomQueueSize          = 16
	maxRelevantGroceryHits = 20
)

// Orchestrator runs AI-generation work off the broadcast path and
// republishes results as events. Requests for one room are serialized by a
// dedicated room worker; rooms generate concurrently.
type Orchestrator struct {
	llm           CompletionClient
	store         Store
	publisher     Publisher
	timeout       time.Duration
	historyWindow int

	mu     sync.Mutex
	queues map[int64]chan *pendingGeneration
}

// NewOrchestrator creates an orchestrator. timeout bounds each upstream
// generation call; historyWindow is how many recent messages generators see.
func NewOrchestrator(llm CompletionClient, st Store, publisher Publisher, timeout time.Duration, historyWindow int) *Orchestrator {
	return &Orchestrator{
		llm:           llm,
		store:         st,
		publisher:     publisher,
		timeout:       timeout,
		historyWindow: historyWindow,
		queues:        make(map[int64]chan *pendingGeneration),
	}
}

// Schedule accepts a generation request and returns immediately. When a
// room's queue is full the request is dropped with a log entry rather than
// blocking the caller.
func (o *Orchestrator) Schedule(roomID int64, userID, goal string) {
	task := &pendingGeneration{
		roomID:     roomID,
		userID:     userID,
		goal:       goal,
		kind:       ClassifyGoal(goal),
		state:      StateScheduled,
		enqueuedAt: time.Now(),
	}

	select {
	case o.roomQueue(roomID) <- task:
		slog.Info("Generation scheduled", "room_id", roomID, "kind", task.kind)
	default:
		slog.Warn("Generation queue full, dropping request", "room_id", roomID, "kind", task.kind)
	}
}

func (o *Orchestrator) roomQueue(roomID int64) chan *pendingGeneration {
	o.mu.Lock()
	defer o.mu.Unlock()

	q, ok := o.queues[roomID]
	if !ok {
		q = make(chan *pendingGeneration, roomQueueSize)
		o.queues[roomID] = q
		go o.roomWorker(roomID, q)
	}
	return q
}

func (o *Orchestrator) roomWorker(roomID int64, q chan *pendingGeneration) {
	slog.Debug("Room generation worker started", "room_id", roomID)
	for task := range q {
		o.run(task)
	}
}

// run executes one generation under the configured timeout. Failures emit a
// narrative-only event of the attempted kind so the room sees the outcome
// instead of silence; the chat path is never involved.
func (o *Orchestrator) run(task *pendingGeneration) {
	task.state = StateRunning
	started := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	result, err := o.generate(ctx, task)
	if err == nil {
		var payload json.RawMessage
		payload, err = json.Marshal(result.Payload)
		if err == nil {
			task.state = StateDelivered
			o.publisher.PublishEvent(chat.AIEvent{
				RoomID:    task.roomID,
				Kind:      string(task.kind),
				Narrative: result.Narrative,
				Payload:   payload,
			})
			slog.Info("Generation delivered",
				"room_id", task.roomID,
				"kind", task.kind,
				"queued", started.Sub(task.enqueuedAt),
				"duration", time.Since(started),
			)
			return
		}
	}

	task.state = StateFailed
	slog.Warn("Generation failed", "room_id", task.roomID, "kind", task.kind, "error", err)
	o.publisher.PublishEvent(chat.AIEvent{
		RoomID:    task.roomID,
		Kind:      string(task.kind),
		Narrative: fmt.Sprintf("Sorry, I couldn't finish the %s request: %v", kindLabel(task.kind), err),
	})
}

func kindLabel(k Kind) string {
	return strings.ReplaceAll(string(k), "_", " ")
}

func (o *Orchestrator) generate(ctx context.Context, task *pendingGeneration) (*Result, error) {
	model := ""
	if user, err := o.store.GetUser(ctx, task.userID); err == nil && user != nil {
		model = user.PreferredModel
	}

	history, err := o.store.ListMessages(ctx, task.roomID, o.historyWindow)
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}
	historyText := formatHistory(history)

	switch task.kind {
	case KindProcurementPlan:
		return generateProcurementPlan(ctx, o.llm, model, historyText, task.goal)

	case KindMenuSuggestions:
		inv, err := o.store.ListInventory(ctx, task.userID)
		if err != nil {
			return nil, fmt.Errorf("load inventory: %w", err)
		}
		return generateMenuSuggestions(ctx, o.llm, model, inv)

	case KindRestockPlan:
		inv, err := o.store.ListInventory(ctx, task.userID)
		if err != nil {
			return nil, fmt.Errorf("load inventory: %w", err)
		}
		return generateRestockPlan(ctx, o.llm, model, inv, o.relevantGroceryItems(ctx, inv))

	default:
		inv, err := o.store.ListInventory(ctx, task.userID)
		if err != nil {
			return nil, fmt.Errorf("load inventory: %w", err)
		}
		return generateInventoryAnalysis(ctx, o.llm, model, inv, o.relevantGroceryItems(ctx, inv), historyText)
	}
}

// relevantGroceryItems looks up catalog matches for low-stock items. Lookup
// failures degrade to fewer suggestions instead of failing the generation.
func (o *Orchestrator) relevantGroceryItems(ctx context.Context, inv []*domain.InventoryItem) []*domain.GroceryItem {
	var out []*domain.GroceryItem
	for _, item := range inv {
		if !item.LowStock() {
			continue
		}
		found, err := o.store.SearchGroceryItems(ctx, item.ProductName, 5)
		if err != nil {
			slog.Warn("Grocery catalog lookup failed", "product", item.ProductName, "error", err)
			continue
		}
		out = append(out, found...)
		if len(out) >= maxRelevantGroceryHits {
			return out[:maxRelevantGroceryHits]
		}
	}
	return out
}
