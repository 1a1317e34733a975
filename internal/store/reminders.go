package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrReminderNotFound = errors.New("reminder not found")

// ReminderStore persists reminders and deferred tasks.
type ReminderStore struct {
	DB  *sql.DB
	Now func() time.Time
}

func NewReminderStore(db *sql.DB) *ReminderStore {
	return &ReminderStore{DB: db, Now: time.Now}
}

const reminderColumns = `id, user_id, title, description, scheduled_time, trigger_type,
	recurrence_pattern, kind, context, execution_plan, created_at, completed, active`

func encodeJSON(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func decodeJSON(s string) map[string]any {
	if s == "" {
		return nil
	}
	var m map[string]any
	if json.Unmarshal([]byte(s), &m) != nil {
		return nil
	}
	return m
}

// Create inserts r, filling ID, CreatedAt and the trigger/kind defaults.
func (s *ReminderStore) Create(r Reminder) (Reminder, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.Now()
	}
	if r.TriggerType == "" {
		r.TriggerType = TriggerOneTime
	}
	if r.Kind == "" {
		r.Kind = KindReminder
	}
	r.Active = true

	ctxJSON, err := encodeJSON(r.Context)
	if err != nil {
		return Reminder{}, fmt.Errorf("encode context: %w", err)
	}
	planJSON, err := encodeJSON(r.ExecutionPlan)
	if err != nil {
		return Reminder{}, fmt.Errorf("encode execution plan: %w", err)
	}

	query := `INSERT INTO reminders (` + reminderColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.DB.Exec(query,
		r.ID, r.UserID, r.Title, r.Description, formatTime(r.ScheduledTime), r.TriggerType,
		r.RecurrencePattern, r.Kind, ctxJSON, planJSON, formatTime(r.CreatedAt), r.Completed, r.Active,
	)
	if err != nil {
		return Reminder{}, fmt.Errorf("failed to insert reminder: %w", err)
	}
	return r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReminder(row scanner) (Reminder, error) {
	var r Reminder
	var scheduled, created, ctxJSON, planJSON string
	err := row.Scan(&r.ID, &r.UserID, &r.Title, &r.Description, &scheduled, &r.TriggerType,
		&r.RecurrencePattern, &r.Kind, &ctxJSON, &planJSON, &created, &r.Completed, &r.Active)
	if err != nil {
		return Reminder{}, err
	}
	r.ScheduledTime = parseTime(scheduled)
	r.CreatedAt = parseTime(created)
	r.Context = decodeJSON(ctxJSON)
	r.ExecutionPlan = decodeJSON(planJSON)
	return r, nil
}

func (s *ReminderStore) query(query string, args ...any) ([]Reminder, error) {
	rows, err := s.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *ReminderStore) Get(id string) (Reminder, error) {
	r, err := scanReminder(s.DB.QueryRow(`SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Reminder{}, ErrReminderNotFound
	}
	return r, err
}

// Due returns active, uncompleted reminders scheduled at or before now.
func (s *ReminderStore) Due(now time.Time) ([]Reminder, error) {
	return s.query(
		`SELECT `+reminderColumns+` FROM reminders
		WHERE active = 1 AND completed = 0 AND scheduled_time <= ?
		ORDER BY scheduled_time`,
		formatTime(now),
	)
}

// List returns a user's active reminders ordered by scheduled time.
func (s *ReminderStore) List(userID string, includeCompleted bool) ([]Reminder, error) {
	q := `SELECT ` + reminderColumns + ` FROM reminders WHERE user_id = ? AND active = 1`
	if !includeCompleted {
		q += ` AND completed = 0`
	}
	return s.query(q+` ORDER BY scheduled_time`, userID)
}

// Cancel deactivates a reminder owned by userID.
func (s *ReminderStore) Cancel(id, userID string) error {
	res, err := s.DB.Exec(`UPDATE reminders SET active = 0 WHERE id = ? AND user_id = ? AND active = 1`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s not found or already cancelled: %w", id, ErrReminderNotFound)
	}
	return nil
}

// Update moves and/or re-describes an active reminder. A zero newTime and
// empty newDescription leave the respective column alone.
func (s *ReminderStore) Update(id, userID string, newTime time.Time, newDescription string) error {
	var sets []string
	var args []any
	if !newTime.IsZero() {
		sets = append(sets, "scheduled_time = ?")
		args = append(args, formatTime(newTime))
	}
	if newDescription != "" {
		sets = append(sets, "description = ?")
		args = append(args, newDescription)
	}
	if len(sets) == 0 {
		return errors.New("no updates provided")
	}

	args = append(args, id, userID)
	res, err := s.DB.Exec(`UPDATE reminders SET `+strings.Join(sets, ", ")+` WHERE id = ? AND user_id = ? AND active = 1`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s not found or inactive: %w", id, ErrReminderNotFound)
	}
	return nil
}

func (s *ReminderStore) MarkCompleted(id string) error {
	_, err := s.DB.Exec(`UPDATE reminders SET completed = 1 WHERE id = ?`, id)
	return err
}

func (s *ReminderStore) Reschedule(id string, next time.Time) error {
	_, err := s.DB.Exec(`UPDATE reminders SET scheduled_time = ? WHERE id = ?`, formatTime(next), id)
	return err
}
