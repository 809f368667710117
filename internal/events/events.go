package events

import (
	"context"
	"sync"
	"time"

	"card-reward-advisor/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventCardsSynced is emitted when cards are created or updated
	EventCardsSynced EventType = "cards.synced"
	// EventOffersRefreshed is emitted after an offer refresh pass
	EventOffersRefreshed EventType = "offers.refreshed"
	// EventExpenseRecorded is emitted when an expense is recorded
	EventExpenseRecorded EventType = "expense.recorded"
	// EventRecommendationServed is emitted when a recommendation is computed
	EventRecommendationServed EventType = "recommendation.served"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// CardsSyncedData contains data for cards synced events.
type CardsSyncedData struct {
	Count int
}

// OffersRefreshedData contains data for offer refresh events.
type OffersRefreshedData struct {
	Results []models.RefreshResult
}

// ExpenseRecordedData contains data for expense recorded events.
type ExpenseRecordedData struct {
	Expense models.Expense
}

// RecommendationServedData contains data for recommendation served events.
type RecommendationServedData struct {
	Merchant        string
	Amount          float64
	Split           bool
	Recommendations []models.Recommendation
	ServedAt        time.Time
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
}

// NewManager creates a new event manager.
func NewManager(enabled bool) *Manager {
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers. Handlers run
// asynchronously so publishing never blocks the request path.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	if !m.enabled {
		return
	}

	m.mu.RLock()
	handlers := m.handlers[eventType]
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	for _, handler := range handlers {
		go func(h Handler) {
			if err := h(ctx, event); err != nil {
				_ = err
			}
		}(handler)
	}
}

// PublishCardsSynced publishes a cards synced event.
func (m *Manager) PublishCardsSynced(ctx context.Context, count int) {
	m.Publish(ctx, EventCardsSynced, CardsSyncedData{Count: count})
}

// PublishOffersRefreshed publishes an offers refreshed event.
func (m *Manager) PublishOffersRefreshed(ctx context.Context, results []models.RefreshResult) {
	m.Publish(ctx, EventOffersRefreshed, OffersRefreshedData{Results: results})
}

// PublishExpenseRecorded publishes an expense recorded event.
func (m *Manager) PublishExpenseRecorded(ctx context.Context, expense models.Expense) {
	m.Publish(ctx, EventExpenseRecorded, ExpenseRecordedData{Expense: expense})
}

// PublishRecommendationServed publishes a recommendation served event.
func (m *Manager) PublishRecommendationServed(ctx context.Context, merchant string, amount float64, split bool, recommendations []models.Recommendation) {
	m.Publish(ctx, EventRecommendationServed, RecommendationServedData{
		Merchant:        merchant,
		Amount:          amount,
		Split:           split,
		Recommendations: recommendations,
		ServedAt:        time.Now(),
	})
}

// Shutdown shuts down the event manager.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
}
