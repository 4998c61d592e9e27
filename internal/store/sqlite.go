// Package store provides storage backends for CoachFlow.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/coachflow/coachflow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements Store on a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN is a file path; the containing directory is created if missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveSubscriber(sub models.Subscriber) error {
	targets, err := json.Marshal(sub.Targets)
	if err != nil {
		return fmt.Errorf("failed to marshal subscriber targets: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO subscribers
			(id, ig_username, first_name, last_name, journey_stage, is_onboarding, is_trial, targets, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.IGUsername, sub.FirstName, sub.LastName, string(sub.JourneyStage),
		sub.IsOnboarding, sub.IsTrial, string(targets), sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveSubscriber failed", "error", err, "subscriberID", sub.ID)
		return fmt.Errorf("failed to save subscriber %s: %w", sub.ID, err)
	}
	slog.Debug("SQLiteStore SaveSubscriber succeeded", "subscriberID", sub.ID)
	return nil
}

func (s *SQLiteStore) scanSubscriber(row *sql.Row) (*models.Subscriber, error) {
	var sub models.Subscriber
	var stage, targets string
	err := row.Scan(&sub.ID, &sub.IGUsername, &sub.FirstName, &sub.LastName, &stage,
		&sub.IsOnboarding, &sub.IsTrial, &targets, &sub.CreatedAt, &sub.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sub.JourneyStage = models.JourneyStage(stage)
	if targets != "" {
		if err := json.Unmarshal([]byte(targets), &sub.Targets); err != nil {
			slog.Error("SQLiteStore subscriber targets unmarshal failed", "error", err, "subscriberID", sub.ID)
		}
	}
	return &sub, nil
}

const subscriberColumns = `id, ig_username, first_name, last_name, journey_stage, is_onboarding, is_trial, targets, created_at, updated_at`

func (s *SQLiteStore) GetSubscriber(id string) (*models.Subscriber, error) {
	row := s.db.QueryRow(`SELECT `+subscriberColumns+` FROM subscribers WHERE id = ?`, id)
	sub, err := s.scanSubscriber(row)
	if err != nil {
		slog.Error("SQLiteStore GetSubscriber failed", "error", err, "subscriberID", id)
		return nil, fmt.Errorf("failed to get subscriber %s: %w", id, err)
	}
	return sub, nil
}

func (s *SQLiteStore) GetSubscriberByIGUsername(username string) (*models.Subscriber, error) {
	row := s.db.QueryRow(`SELECT `+subscriberColumns+` FROM subscribers WHERE ig_username = ? COLLATE NOCASE`, username)
	sub, err := s.scanSubscriber(row)
	if err != nil {
		slog.Error("SQLiteStore GetSubscriberByIGUsername failed", "error", err, "username", username)
		return nil, fmt.Errorf("failed to get subscriber by username %s: %w", username, err)
	}
	return sub, nil
}

func (s *SQLiteStore) ListSubscribers() ([]models.Subscriber, error) {
	rows, err := s.db.Query(`SELECT ` + subscriberColumns + ` FROM subscribers ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore ListSubscribers query failed", "error", err)
		return nil, fmt.Errorf("failed to query subscribers: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscriber
	for rows.Next() {
		var sub models.Subscriber
		var stage, targets string
		if err := rows.Scan(&sub.ID, &sub.IGUsername, &sub.FirstName, &sub.LastName, &stage,
			&sub.IsOnboarding, &sub.IsTrial, &targets, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			slog.Error("SQLiteStore ListSubscribers scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan subscriber row: %w", err)
		}
		sub.JourneyStage = models.JourneyStage(stage)
		if targets != "" {
			if err := json.Unmarshal([]byte(targets), &sub.Targets); err != nil {
				slog.Error("SQLiteStore subscriber targets unmarshal failed", "error", err, "subscriberID", sub.ID)
			}
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriber rows: %w", err)
	}
	slog.Debug("SQLiteStore ListSubscribers succeeded", "count", len(subs))
	return subs, nil
}

func (s *SQLiteStore) AddConversationTurn(turn models.ConversationTurn) error {
	_, err := s.db.Exec(`INSERT INTO conversation_turns (subscriber_id, role, body, timestamp) VALUES (?, ?, ?, ?)`,
		turn.SubscriberID, string(turn.Role), turn.Text, turn.Timestamp)
	if err != nil {
		slog.Error("SQLiteStore AddConversationTurn failed", "error", err, "subscriberID", turn.SubscriberID)
		return fmt.Errorf("failed to insert conversation turn for %s: %w", turn.SubscriberID, err)
	}
	slog.Debug("SQLiteStore AddConversationTurn succeeded", "subscriberID", turn.SubscriberID, "role", turn.Role)
	return nil
}

func (s *SQLiteStore) GetConversationHistory(subscriberID string, limit int) ([]models.ConversationTurn, error) {
	// Newest rows win under the limit, returned oldest-first.
	query := `SELECT subscriber_id, role, body, timestamp FROM (
		SELECT id, subscriber_id, role, body, timestamp FROM conversation_turns
		WHERE subscriber_id = ? ORDER BY id DESC LIMIT ?
	) ORDER BY id ASC`
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(query, subscriberID, limit)
	if err != nil {
		slog.Error("SQLiteStore GetConversationHistory query failed", "error", err, "subscriberID", subscriberID)
		return nil, fmt.Errorf("failed to query conversation history: %w", err)
	}
	defer rows.Close()

	var turns []models.ConversationTurn
	for rows.Next() {
		var turn models.ConversationTurn
		var role string
		if err := rows.Scan(&turn.SubscriberID, &role, &turn.Text, &turn.Timestamp); err != nil {
			slog.Error("SQLiteStore GetConversationHistory scan failed", "error", err)
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

func (s *SQLiteStore) SaveCalorieTracking(ct models.CalorieTracking) error {
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
		INSERT OR REPLACE INTO calorie_tracking (subscriber_id, daily_target, consumed, remaining, meals, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ct.SubscriberID, string(target), string(consumed), string(remaining), string(meals), ct.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveCalorieTracking failed", "error", err, "subscriberID", ct.SubscriberID)
		return fmt.Errorf("failed to save calorie tracking for %s: %w", ct.SubscriberID, err)
	}
	slog.Debug("SQLiteStore SaveCalorieTracking succeeded", "subscriberID", ct.SubscriberID)
	return nil
}

func scanCalorieTracking(dest *models.CalorieTracking, target, consumed, remaining, meals string) {
	if target != "" {
		if err := json.Unmarshal([]byte(target), &dest.DailyTarget); err != nil {
			slog.Error("calorie tracking daily_target unmarshal failed", "error", err, "subscriberID", dest.SubscriberID)
		}
	}
	if consumed != "" {
		if err := json.Unmarshal([]byte(consumed), &dest.Consumed); err != nil {
			slog.Error("calorie tracking consumed unmarshal failed", "error", err, "subscriberID", dest.SubscriberID)
		}
	}
	if remaining != "" {
		if err := json.Unmarshal([]byte(remaining), &dest.Remaining); err != nil {
			slog.Error("calorie tracking remaining unmarshal failed", "error", err, "subscriberID", dest.SubscriberID)
		}
	}
	if meals != "" {
		if err := json.Unmarshal([]byte(meals), &dest.Meals); err != nil {
			slog.Error("calorie tracking meals unmarshal failed", "error", err, "subscriberID", dest.SubscriberID)
		}
	}
}

func (s *SQLiteStore) GetCalorieTracking(subscriberID string) (*models.CalorieTracking, error) {
	row := s.db.QueryRow(`SELECT subscriber_id, daily_target, consumed, remaining, meals, updated_at
		FROM calorie_tracking WHERE subscriber_id = ?`, subscriberID)

	var ct models.CalorieTracking
	var target, consumed, remaining, meals string
	err := row.Scan(&ct.SubscriberID, &target, &consumed, &remaining, &meals, &ct.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetCalorieTracking failed", "error", err, "subscriberID", subscriberID)
		return nil, fmt.Errorf("failed to get calorie tracking for %s: %w", subscriberID, err)
	}
	scanCalorieTracking(&ct, target, consumed, remaining, meals)
	return &ct, nil
}

func (s *SQLiteStore) ListCalorieTracking() ([]models.CalorieTracking, error) {
	rows, err := s.db.Query(`SELECT subscriber_id, daily_target, consumed, remaining, meals, updated_at
		FROM calorie_tracking ORDER BY subscriber_id`)
	if err != nil {
		slog.Error("SQLiteStore ListCalorieTracking query failed", "error", err)
		return nil, fmt.Errorf("failed to query calorie tracking: %w", err)
	}
	defer rows.Close()

	var out []models.CalorieTracking
	for rows.Next() {
		var ct models.CalorieTracking
		var target, consumed, remaining, meals string
		if err := rows.Scan(&ct.SubscriberID, &target, &consumed, &remaining, &meals, &ct.UpdatedAt); err != nil {
			slog.Error("SQLiteStore ListCalorieTracking scan failed", "error", err)
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

func (s *SQLiteStore) SaveFlowState(state models.FlowState) error {
	var stateDataJSON string
	if len(state.StateData) > 0 {
		jsonBytes, err := json.Marshal(state.StateData)
		if err != nil {
			slog.Error("SQLiteStore SaveFlowState JSON marshal failed", "error", err, "subscriberID", state.SubscriberID)
			return err
		}
		stateDataJSON = string(jsonBytes)
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO flow_states (subscriber_id, flow_type, current_state, state_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		state.SubscriberID, string(state.FlowType), string(state.CurrentState),
		stateDataJSON, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveFlowState failed", "error", err, "subscriberID", state.SubscriberID, "flowType", state.FlowType)
		return err
	}
	slog.Debug("SQLiteStore SaveFlowState succeeded", "subscriberID", state.SubscriberID, "flowType", state.FlowType, "state", state.CurrentState)
	return nil
}

func (s *SQLiteStore) GetFlowState(subscriberID string, flowType models.FlowType) (*models.FlowState, error) {
	var state models.FlowState
	var ft, cs, stateDataJSON string

	err := s.db.QueryRow(`SELECT subscriber_id, flow_type, current_state, state_data, created_at, updated_at
		FROM flow_states WHERE subscriber_id = ? AND flow_type = ?`, subscriberID, string(flowType)).Scan(
		&state.SubscriberID, &ft, &cs, &stateDataJSON, &state.CreatedAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetFlowState failed", "error", err, "subscriberID", subscriberID, "flowType", flowType)
		return nil, err
	}
	state.FlowType = models.FlowType(ft)
	state.CurrentState = models.StateType(cs)
	if stateDataJSON != "" {
		state.StateData = make(map[models.DataKey]string)
		if err := json.Unmarshal([]byte(stateDataJSON), &state.StateData); err != nil {
			slog.Error("SQLiteStore GetFlowState JSON unmarshal failed", "error", err, "subscriberID", subscriberID)
			state.StateData = make(map[models.DataKey]string)
		}
	}
	return &state, nil
}

func (s *SQLiteStore) ListFlowStates(flowType models.FlowType) ([]models.FlowState, error) {
	rows, err := s.db.Query(`SELECT subscriber_id, flow_type, current_state, state_data, created_at, updated_at
		FROM flow_states WHERE flow_type = ? ORDER BY subscriber_id`, string(flowType))
	if err != nil {
		slog.Error("SQLiteStore ListFlowStates query failed", "error", err, "flowType", flowType)
		return nil, fmt.Errorf("failed to query flow states: %w", err)
	}
	defer rows.Close()

	var out []models.FlowState
	for rows.Next() {
		var state models.FlowState
		var ft, cs, stateDataJSON string
		if err := rows.Scan(&state.SubscriberID, &ft, &cs, &stateDataJSON, &state.CreatedAt, &state.UpdatedAt); err != nil {
			slog.Error("SQLiteStore ListFlowStates scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan flow state row: %w", err)
		}
		state.FlowType = models.FlowType(ft)
		state.CurrentState = models.StateType(cs)
		if stateDataJSON != "" {
			state.StateData = make(map[models.DataKey]string)
			if err := json.Unmarshal([]byte(stateDataJSON), &state.StateData); err != nil {
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

func (s *SQLiteStore) DeleteFlowState(subscriberID string, flowType models.FlowType) error {
	_, err := s.db.Exec(`DELETE FROM flow_states WHERE subscriber_id = ? AND flow_type = ?`, subscriberID, string(flowType))
	if err != nil {
		slog.Error("SQLiteStore DeleteFlowState failed", "error", err, "subscriberID", subscriberID, "flowType", flowType)
		return err
	}
	slog.Debug("SQLiteStore DeleteFlowState succeeded", "subscriberID", subscriberID, "flowType", flowType)
	return nil
}

func (s *SQLiteStore) AddTodo(item models.TodoItem) error {
	_, err := s.db.Exec(`INSERT INTO todos (id, subscriber_id, description, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		item.ID, item.SubscriberID, item.Description, string(item.Status), item.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddTodo failed", "error", err, "id", item.ID)
		return fmt.Errorf("failed to insert todo %s: %w", item.ID, err)
	}
	slog.Debug("SQLiteStore AddTodo succeeded", "id", item.ID, "subscriberID", item.SubscriberID)
	return nil
}

func (s *SQLiteStore) ListTodos(status models.TodoStatus) ([]models.TodoItem, error) {
	query := `SELECT id, subscriber_id, description, status, created_at FROM todos`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore ListTodos query failed", "error", err)
		return nil, fmt.Errorf("failed to query todos: %w", err)
	}
	defer rows.Close()

	var out []models.TodoItem
	for rows.Next() {
		var item models.TodoItem
		var st string
		if err := rows.Scan(&item.ID, &item.SubscriberID, &item.Description, &st, &item.CreatedAt); err != nil {
			slog.Error("SQLiteStore ListTodos scan failed", "error", err)
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

func (s *SQLiteStore) UpdateTodoStatus(id string, status models.TodoStatus) error {
	res, err := s.db.Exec(`UPDATE todos SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		slog.Error("SQLiteStore UpdateTodoStatus failed", "error", err, "id", id)
		return fmt.Errorf("failed to update todo %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("todo item %s not found", id)
	}
	return nil
}

func (s *SQLiteStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES (?, ?, ?)`, r.To, r.Status, r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	return nil
}

func (s *SQLiteStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, status, time FROM receipts`)
	if err != nil {
		slog.Error("SQLiteStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		if err := rows.Scan(&r.To, &r.Status, &r.Time); err != nil {
			slog.Error("SQLiteStore GetReceipts scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
