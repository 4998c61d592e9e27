// Package store provides storage backends for CoachFlow.
//
// This file implements the PostgreSQL-backed store for deployments that need
// a client-server database.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "embed"

	"github.com/coachflow/coachflow/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveSubscriber(sub models.Subscriber) error {
	targets, err := json.Marshal(sub.Targets)
	if err != nil {
		return fmt.Errorf("failed to marshal subscriber targets: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO subscribers
			(id, ig_username, first_name, last_name, journey_stage, is_onboarding, is_trial, targets, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			ig_username = EXCLUDED.ig_username,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			journey_stage = EXCLUDED.journey_stage,
			is_onboarding = EXCLUDED.is_onboarding,
			is_trial = EXCLUDED.is_trial,
			targets = EXCLUDED.targets,
			updated_at = EXCLUDED.updated_at`,
		sub.ID, sub.IGUsername, sub.FirstName, sub.LastName, string(sub.JourneyStage),
		sub.IsOnboarding, sub.IsTrial, string(targets), sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveSubscriber failed", "error", err, "subscriberID", sub.ID)
		return fmt.Errorf("failed to save subscriber %s: %w", sub.ID, err)
	}
	return nil
}

func (s *PostgresStore) getSubscriber(query string, arg interface{}) (*models.Subscriber, error) {
	var sub models.Subscriber
	var stage, targets string
	err := s.db.QueryRow(query, arg).Scan(&sub.ID, &sub.IGUsername, &sub.FirstName, &sub.LastName,
		&stage, &sub.IsOnboarding, &sub.IsTrial, &targets, &sub.CreatedAt, &sub.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sub.JourneyStage = models.JourneyStage(stage)
	if targets != "" {
		if err := json.Unmarshal([]byte(targets), &sub.Targets); err != nil {
			slog.Error("PostgresStore subscriber targets unmarshal failed", "error", err, "subscriberID", sub.ID)
		}
	}
	return &sub, nil
}

func (s *PostgresStore) GetSubscriber(id string) (*models.Subscriber, error) {
	sub, err := s.getSubscriber(`SELECT `+subscriberColumns+` FROM subscribers WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore GetSubscriber failed", "error", err, "subscriberID", id)
		return nil, fmt.Errorf("failed to get subscriber %s: %w", id, err)
	}
	return sub, nil
}

func (s *PostgresStore) GetSubscriberByIGUsername(username string) (*models.Subscriber, error) {
	sub, err := s.getSubscriber(`SELECT `+subscriberColumns+` FROM subscribers WHERE LOWER(ig_username) = LOWER($1)`, username)
	if err != nil {
		slog.Error("PostgresStore GetSubscriberByIGUsername failed", "error", err, "username", username)
		return nil, fmt.Errorf("failed to get subscriber by username %s: %w", username, err)
	}
	return sub, nil
}

func (s *PostgresStore) ListSubscribers() ([]models.Subscriber, error) {
	rows, err := s.db.Query(`SELECT ` + subscriberColumns + ` FROM subscribers ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore ListSubscribers query failed", "error", err)
		return nil, fmt.Errorf("failed to query subscribers: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscriber
	for rows.Next() {
		var sub models.Subscriber
		var stage, targets string
		if err := rows.Scan(&sub.ID, &sub.IGUsername, &sub.FirstName, &sub.LastName, &stage,
			&sub.IsOnboarding, &sub.IsTrial, &targets, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscriber row: %w", err)
		}
		sub.JourneyStage = models.JourneyStage(stage)
		if targets != "" {
			if err := json.Unmarshal([]byte(targets), &sub.Targets); err != nil {
				slog.Error("PostgresStore subscriber targets unmarshal failed", "error", err, "subscriberID", sub.ID)
			}
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriber rows: %w", err)
	}
	return subs, nil
}

func (s *PostgresStore) AddConversationTurn(turn models.ConversationTurn) error {
	_, err := s.db.Exec(`INSERT INTO conversation_turns (subscriber_id, role, body, timestamp) VALUES ($1, $2, $3, $4)`,
		turn.SubscriberID, string(turn.Role), turn.Text, turn.Timestamp)
	if err != nil {
		slog.Error("PostgresStore AddConversationTurn failed", "error", err, "subscriberID", turn.SubscriberID)
		return fmt.Errorf("failed to insert conversation turn for %s: %w", turn.SubscriberID, err)
	}
	return nil
}

func (s *PostgresStore) GetConversationHistory(subscriberID string, limit int) ([]models.ConversationTurn, error) {
	// limit <= 0 returns the full history, matching the other backends.
	query := `SELECT subscriber_id, role, body, timestamp FROM conversation_turns
		WHERE subscriber_id = $1 ORDER BY id ASC`
	args := []interface{}{subscriberID}
	if limit > 0 {
		query = `SELECT subscriber_id, role, body, timestamp FROM (
			SELECT id, subscriber_id, role, body, timestamp FROM conversation_turns
			WHERE subscriber_id = $1 ORDER BY id DESC LIMIT $2
		) recent ORDER BY id ASC`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore GetConversationHistory query failed", "error", err, "subscriberID", subscriberID)
		return nil, fmt.Errorf("failed to query conversation history: %w", err)
	}
	defer rows.Close()

	var turns []models.ConversationTurn
	for rows.Next() {
		var turn models.ConversationTurn
		var role string
		if err := rows.Scan(&turn.SubscriberID, &role, &turn.Text, &turn.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan conversation turn: %w", err)
		}
		turn.Role = models.TurnRole(role)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation turns: %w", err)
	}
	return turns, nil
}

func (s *PostgresStore) SaveCalorieTracking(ct models.CalorieTracking) error {
	target, err := json.Marshal(ct.DailyTarget)
	if err != nil {
		return fmt.Errorf("failed to marshal daily target: %w", err)
	}
	consumed, err := json.Marshal(ct.Consumed)
	if err != nil {
		return fmt.Errorf("failed to marshal consumed totals: %w", err)
	}
	remaining, err := json.Marshal(ct.Remaining)
	if err != nil {
		return fmt.Errorf("failed to marshal remaining totals: %w", err)
	}
	meals, err := json.Marshal(ct.Meals)
	if err != nil {
		return fmt.Errorf("failed to marshal meals: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO calorie_tracking (subscriber_id, daily_target, consumed, remaining, meals, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (subscriber_id) DO UPDATE SET
			daily_target = EXCLUDED.daily_target,
			consumed = EXCLUDED.consumed,
			remaining = EXCLUDED.remaining,
			meals = EXCLUDED.meals,
			updated_at = EXCLUDED.updated_at`,
		ct.SubscriberID, string(target), string(consumed), string(remaining), string(meals), ct.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveCalorieTracking failed", "error", err, "subscriberID", ct.SubscriberID)
		return fmt.Errorf("failed to save calorie tracking for %s: %w", ct.SubscriberID, err)
	}
	return nil
}

func (s *PostgresStore) GetCalorieTracking(subscriberID string) (*models.CalorieTracking, error) {
	var ct models.CalorieTracking
	var target, consumed, remaining, meals string
	err := s.db.QueryRow(`SELECT subscriber_id, daily_target, consumed, remaining, meals, updated_at
		FROM calorie_tracking WHERE subscriber_id = $1`, subscriberID).Scan(
		&ct.SubscriberID, &target, &consumed, &remaining, &meals, &ct.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetCalorieTracking failed", "error", err, "subscriberID", subscriberID)
		return nil, fmt.Errorf("failed to get calorie tracking for %s: %w", subscriberID, err)
	}
	scanCalorieTracking(&ct, target, consumed, remaining, meals)
	return &ct, nil
}

func (s *PostgresStore) ListCalorieTracking() ([]models.CalorieTracking, error) {
	rows, err := s.db.Query(`SELECT subscriber_id, daily_target, consumed, remaining, meals, updated_at
		FROM calorie_tracking ORDER BY subscriber_id`)
	if err != nil {
		slog.Error("PostgresStore ListCalorieTracking query failed", "error", err)
		return nil, fmt.Errorf("failed to query calorie tracking: %w", err)
	}
	defer rows.Close()

	var out []models.CalorieTracking
	for rows.Next() {
		var ct models.CalorieTracking
		var target, consumed, remaining, meals string
		if err := rows.Scan(&ct.SubscriberID, &target, &consumed, &remaining, &meals, &ct.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan calorie tracking row: %w", err)
		}
		scanCalorieTracking(&ct, target, consumed, remaining, meals)
		out = append(out, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate calorie tracking rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SaveFlowState(state models.FlowState) error {
	var stateDataJSON interface{}
	if len(state.StateData) > 0 {
		jsonBytes, err := json.Marshal(state.StateData)
		if err != nil {
			slog.Error("PostgresStore SaveFlowState JSON marshal failed", "error", err, "subscriberID", state.SubscriberID)
			return err
		}
		stateDataJSON = string(jsonBytes)
	}

	_, err := s.db.Exec(`
		INSERT INTO flow_states (subscriber_id, flow_type, current_state, state_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (subscriber_id, flow_type) DO UPDATE SET
			current_state = EXCLUDED.current_state,
			state_data = EXCLUDED.state_data,
			updated_at = EXCLUDED.updated_at`,
		state.SubscriberID, string(state.FlowType), string(state.CurrentState),
		stateDataJSON, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveFlowState failed", "error", err, "subscriberID", state.SubscriberID, "flowType", state.FlowType)
		return err
	}
	return nil
}

func (s *PostgresStore) GetFlowState(subscriberID string, flowType models.FlowType) (*models.FlowState, error) {
	var state models.FlowState
	var ft, cs string
	var stateDataJSON sql.NullString

	err := s.db.QueryRow(`SELECT subscriber_id, flow_type, current_state, state_data, created_at, updated_at
		FROM flow_states WHERE subscriber_id = $1 AND flow_type = $2`, subscriberID, string(flowType)).Scan(
		&state.SubscriberID, &ft, &cs, &stateDataJSON, &state.CreatedAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetFlowState failed", "error", err, "subscriberID", subscriberID, "flowType", flowType)
		return nil, err
	}
	state.FlowType = models.FlowType(ft)
	state.CurrentState = models.StateType(cs)
	if stateDataJSON.Valid && stateDataJSON.String != "" {
		state.StateData = make(map[models.DataKey]string)
		if err := json.Unmarshal([]byte(stateDataJSON.String), &state.StateData); err != nil {
			state.StateData = make(map[models.DataKey]string)
		}
	}
	return &state, nil
}

func (s *PostgresStore) ListFlowStates(flowType models.FlowType) ([]models.FlowState, error) {
	rows, err := s.db.Query(`SELECT subscriber_id, flow_type, current_state, state_data, created_at, updated_at
		FROM flow_states WHERE flow_type = $1 ORDER BY subscriber_id`, string(flowType))
	if err != nil {
		slog.Error("PostgresStore ListFlowStates query failed", "error", err, "flowType", flowType)
		return nil, fmt.Errorf("failed to query flow states: %w", err)
	}
	defer rows.Close()

	var out []models.FlowState
	for rows.Next() {
		var state models.FlowState
		var ft, cs string
		var stateDataJSON sql.NullString
		if err := rows.Scan(&state.SubscriberID, &ft, &cs, &stateDataJSON, &state.CreatedAt, &state.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan flow state row: %w", err)
		}
		state.FlowType = models.FlowType(ft)
		state.CurrentState = models.StateType(cs)
		if stateDataJSON.Valid && stateDataJSON.String != "" {
			state.StateData = make(map[models.DataKey]string)
			if err := json.Unmarshal([]byte(stateDataJSON.String), &state.StateData); err != nil {
				state.StateData = make(map[models.DataKey]string)
			}
		}
		out = append(out, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flow state rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteFlowState(subscriberID string, flowType models.FlowType) error {
	_, err := s.db.Exec(`DELETE FROM flow_states WHERE subscriber_id = $1 AND flow_type = $2`, subscriberID, string(flowType))
	if err != nil {
		slog.Error("PostgresStore DeleteFlowState failed", "error", err, "subscriberID", subscriberID, "flowType", flowType)
		return err
	}
	return nil
}

func (s *PostgresStore) AddTodo(item models.TodoItem) error {
	_, err := s.db.Exec(`INSERT INTO todos (id, subscriber_id, description, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		item.ID, item.SubscriberID, item.Description, string(item.Status), item.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddTodo failed", "error", err, "id", item.ID)
		return fmt.Errorf("failed to insert todo %s: %w", item.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListTodos(status models.TodoStatus) ([]models.TodoItem, error) {
	query := `SELECT id, subscriber_id, description, status, created_at FROM todos`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore ListTodos query failed", "error", err)
		return nil, fmt.Errorf("failed to query todos: %w", err)
	}
	defer rows.Close()

	var out []models.TodoItem
	for rows.Next() {
		var item models.TodoItem
		var st string
		if err := rows.Scan(&item.ID, &item.SubscriberID, &item.Description, &st, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan todo row: %w", err)
		}
		item.Status = models.TodoStatus(st)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate todo rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateTodoStatus(id string, status models.TodoStatus) error {
	res, err := s.db.Exec(`UPDATE todos SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		slog.Error("PostgresStore UpdateTodoStatus failed", "error", err, "id", id)
		return fmt.Errorf("failed to update todo %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("todo item %s not found", id)
	}
	return nil
}

func (s *PostgresStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES ($1, $2, $3)`, r.To, r.Status, r.Time)
	if err != nil {
		slog.Error("PostgresStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	return nil
}

func (s *PostgresStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, status, time FROM receipts`)
	if err != nil {
		slog.Error("PostgresStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		if err := rows.Scan(&r.To, &r.Status, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}

// Close closes the PostgreSQL connection pool.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL connection pool")
	return s.db.Close()
}
