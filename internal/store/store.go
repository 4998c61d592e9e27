// Package store provides storage backends for CoachFlow.
//
// The webhook server is the only writer, but every handler does
// read-modify-write cycles on subscriber records, so all durable state lives
// behind per-record SQL statements instead of a shared file. SQLite is the
// default backend; PostgreSQL is supported for multi-instance deployments and
// an in-memory store backs tests.
package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/coachflow/coachflow/internal/models"
)

// Store is the persistence interface shared by every CoachFlow module.
type Store interface {
	// Subscribers
	SaveSubscriber(s models.Subscriber) error
	GetSubscriber(id string) (*models.Subscriber, error)
	GetSubscriberByIGUsername(username string) (*models.Subscriber, error)
	ListSubscribers() ([]models.Subscriber, error)

	// Conversation history
	AddConversationTurn(turn models.ConversationTurn) error
	GetConversationHistory(subscriberID string, limit int) ([]models.ConversationTurn, error)

	// Calorie tracking
	SaveCalorieTracking(ct models.CalorieTracking) error
	GetCalorieTracking(subscriberID string) (*models.CalorieTracking, error)
	ListCalorieTracking() ([]models.CalorieTracking, error)

	// Flow states (pending two-step requests)
	SaveFlowState(state models.FlowState) error
	GetFlowState(subscriberID string, flowType models.FlowType) (*models.FlowState, error)
	ListFlowStates(flowType models.FlowType) ([]models.FlowState, error)
	DeleteFlowState(subscriberID string, flowType models.FlowType) error

	// Coach to-do items
	AddTodo(item models.TodoItem) error
	ListTodos(status models.TodoStatus) ([]models.TodoItem, error)
	UpdateTodoStatus(id string, status models.TodoStatus) error

	// Delivery receipts
	AddReceipt(r models.Receipt) error
	GetReceipts() ([]models.Receipt, error)

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN configures a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN configures a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite".
// PostgreSQL DSNs use URL or key=value forms; anything else is treated as a
// SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// New builds a store from options: PostgreSQL or SQLite when a DSN is set,
// in-memory otherwise.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return NewInMemoryStore(), nil
	}
	switch DetectDSNType(cfg.DSN) {
	case "postgres":
		return NewPostgresStore(opts...)
	default:
		return NewSQLiteStore(opts...)
	}
}

// InMemoryStore is a mutex-guarded in-memory Store used by tests and by
// deployments that explicitly opt out of persistence.
type InMemoryStore struct {
	mu          sync.RWMutex
	subscribers map[string]models.Subscriber
	turns       map[string][]models.ConversationTurn
	calories    map[string]models.CalorieTracking
	flowStates  map[string]models.FlowState
	todos       []models.TodoItem
	receipts    []models.Receipt
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		subscribers: make(map[string]models.Subscriber),
		turns:       make(map[string][]models.ConversationTurn),
		calories:    make(map[string]models.CalorieTracking),
		flowStates:  make(map[string]models.FlowState),
	}
}

func flowStateKey(subscriberID string, flowType models.FlowType) string {
	return subscriberID + ":" + string(flowType)
}

func (s *InMemoryStore) SaveSubscriber(sub models.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[sub.ID] = sub
	return nil
}

func (s *InMemoryStore) GetSubscriber(id string) (*models.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscribers[id]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (s *InMemoryStore) GetSubscriberByIGUsername(username string) (*models.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subscribers {
		if strings.EqualFold(sub.IGUsername, username) {
			found := sub
			return &found, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListSubscribers() ([]models.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs := make([]models.Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs, nil
}

func (s *InMemoryStore) AddConversationTurn(turn models.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[turn.SubscriberID] = append(s.turns[turn.SubscriberID], turn)
	return nil
}

func (s *InMemoryStore) GetConversationHistory(subscriberID string, limit int) ([]models.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.turns[subscriberID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]models.ConversationTurn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *InMemoryStore) SaveCalorieTracking(ct models.CalorieTracking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calories[ct.SubscriberID] = ct
	return nil
}

func (s *InMemoryStore) GetCalorieTracking(subscriberID string) (*models.CalorieTracking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ct, ok := s.calories[subscriberID]
	if !ok {
		return nil, nil
	}
	return &ct, nil
}

func (s *InMemoryStore) ListCalorieTracking() ([]models.CalorieTracking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CalorieTracking, 0, len(s.calories))
	for _, ct := range s.calories {
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubscriberID < out[j].SubscriberID })
	return out, nil
}

func (s *InMemoryStore) SaveFlowState(state models.FlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flowStates[flowStateKey(state.SubscriberID, state.FlowType)] = state
	return nil
}

func (s *InMemoryStore) GetFlowState(subscriberID string, flowType models.FlowType) (*models.FlowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.flowStates[flowStateKey(subscriberID, flowType)]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (s *InMemoryStore) ListFlowStates(flowType models.FlowType) ([]models.FlowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.FlowState
	for _, state := range s.flowStates {
		if state.FlowType == flowType {
			out = append(out, state)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubscriberID < out[j].SubscriberID })
	return out, nil
}

func (s *InMemoryStore) DeleteFlowState(subscriberID string, flowType models.FlowType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flowStates, flowStateKey(subscriberID, flowType))
	return nil
}

func (s *InMemoryStore) AddTodo(item models.TodoItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.todos = append(s.todos, item)
	return nil
}

func (s *InMemoryStore) ListTodos(status models.TodoStatus) ([]models.TodoItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.TodoItem
	for _, item := range s.todos {
		if status == "" || item.Status == status {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *InMemoryStore) UpdateTodoStatus(id string, status models.TodoStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.todos {
		if s.todos[i].ID == id {
			s.todos[i].Status = status
			return nil
		}
	}
	return fmt.Errorf("todo item %s not found", id)
}

func (s *InMemoryStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

func (s *InMemoryStore) GetReceipts() ([]models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
