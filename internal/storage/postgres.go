package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/models"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/storage"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// PostgresStore implements storage.Store over the five orchestration tables.
type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func InitStore(dbConnStr string) (*PostgresStore, error) {
	return NewPostgresStore(dbConnStr)
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

func (s *PostgresStore) SaveWorkflowInstance(wi models.WorkflowInstance) error {
	_, err := s.db.Exec(`
		INSERT INTO workflow_instances (id, workflow_type, status, current_step, total_steps, started_at, finished_at, initiated_by, configuration, error_msg)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		wi.ID, wi.WorkflowType, wi.Status, wi.CurrentStep, wi.TotalSteps, wi.StartedAt, wi.FinishedAt, wi.InitiatedBy, []byte(wi.Configuration), wi.ErrorMsg)
	if err != nil {
		return fmt.Errorf("save workflow instance: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkflowInstance(id string) (models.WorkflowInstance, error) {
	var wi models.WorkflowInstance
	err := s.db.Get(&wi, "SELECT * FROM workflow_instances WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.WorkflowInstance{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WorkflowInstance{}, err
	}
	return wi, nil
}

func (s *PostgresStore) ListWorkflowInstances() ([]models.WorkflowInstance, error) {
	instances := []models.WorkflowInstance{}
	err := s.db.Select(&instances, "SELECT * FROM workflow_instances ORDER BY started_at DESC")
	if err != nil {
		return nil, err
	}
	return instances, nil
}

func (s *PostgresStore) UpdateWorkflowInstance(id string, status models.WorkflowStatus, currentStep int, errMsg string, finishedAt *time.Time) error {
	res, err := s.db.Exec(`
		UPDATE workflow_instances
		SET status = $1, current_step = $2, error_msg = $3, finished_at = $4
		WHERE id = $5`,
		status, currentStep, errMsg, finishedAt, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendWorkflowStep(step models.WorkflowStep) (int64, error) {
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO workflow_steps (workflow_id, name, type, status, started_at, finished_at, error_msg, executed_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		step.WorkflowID, step.Name, step.Type, step.Status, step.StartedAt, step.FinishedAt, step.ErrorMsg, step.ExecutedBy).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append workflow step: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ListWorkflowSteps(workflowID string) ([]models.WorkflowStep, error) {
	steps := []models.WorkflowStep{}
	err := s.db.Select(&steps, "SELECT * FROM workflow_steps WHERE workflow_id = $1 ORDER BY id", workflowID)
	if err != nil {
		return nil, err
	}
	return steps, nil
}

func (s *PostgresStore) SaveEvent(e models.WorkflowEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO workflow_events (id, workflow_id, type, payload, occurred_at, processed, processed_at, processing_result, initiated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.WorkflowID, e.Type, []byte(e.Payload), e.OccurredAt, e.Processed, e.ProcessedAt, e.ProcessingResult, e.InitiatedBy)
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveEvents(events []models.WorkflowEvent) error {
	for _, e := range events {
		if err := s.SaveEvent(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) GetEvent(id string) (models.WorkflowEvent, error) {
	var e models.WorkflowEvent
	err := s.db.Get(&e, "SELECT * FROM workflow_events WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.WorkflowEvent{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WorkflowEvent{}, err
	}
	return e, nil
}

func (s *PostgresStore) ListPendingEvents(max int) ([]models.WorkflowEvent, error) {
	events := []models.WorkflowEvent{}
	err := s.db.Select(&events,
		"SELECT * FROM workflow_events WHERE processed = false ORDER BY occurred_at ASC LIMIT $1", max)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *PostgresStore) ListRecentEvents(workflowID string, max int) ([]models.WorkflowEvent, error) {
	events := []models.WorkflowEvent{}
	err := s.db.Select(&events,
		"SELECT * FROM workflow_events WHERE workflow_id = $1 ORDER BY occurred_at DESC LIMIT $2", workflowID, max)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ClaimEvent is the atomic claim: the conditional update only wins for one
// caller under concurrent pollers.
func (s *PostgresStore) ClaimEvent(id string, at time.Time) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE workflow_events
		SET processed = true, processed_at = $1, processing_result = 'claimed'
		WHERE id = $2 AND processed = false`,
		at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStore) SetEventResult(id string, result string) error {
	res, err := s.db.Exec("UPDATE workflow_events SET processing_result = $1 WHERE id = $2", result, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkEventProcessed(id string, result string, at time.Time) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE workflow_events
		SET processed = true, processed_at = $1, processing_result = $2
		WHERE id = $3 AND processed = false`,
		at, result, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Distinguish already-processed (idempotent no-op) from missing.
		var exists bool
		if err := s.db.Get(&exists, "SELECT EXISTS (SELECT 1 FROM workflow_events WHERE id = $1)", id); err != nil {
			return false, err
		}
		if !exists {
			return false, storage.ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) SaveSubscription(sub models.EventSubscription) (int64, error) {
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO event_subscriptions (name, description, event_type, filter, notify, active, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		sub.Name, sub.Description, sub.EventType, []byte(sub.Filter), []byte(sub.Notify), sub.Active, sub.OwnerID, sub.CreatedAt, sub.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save subscription: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetSubscription(id int64) (models.EventSubscription, error) {
	var sub models.EventSubscription
	err := s.db.Get(&sub, "SELECT * FROM event_subscriptions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.EventSubscription{}, storage.ErrNotFound
	}
	if err != nil {
		return models.EventSubscription{}, err
	}
	return sub, nil
}

func (s *PostgresStore) ListSubscriptions() ([]models.EventSubscription, error) {
	subs := []models.EventSubscription{}
	err := s.db.Select(&subs, "SELECT * FROM event_subscriptions ORDER BY id")
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (s *PostgresStore) ListActiveSubscriptions(eventType models.EventType) ([]models.EventSubscription, error) {
	subs := []models.EventSubscription{}
	if eventType == "" {
		err := s.db.Select(&subs, "SELECT * FROM event_subscriptions WHERE active = true ORDER BY id")
		return subs, err
	}
	err := s.db.Select(&subs, "SELECT * FROM event_subscriptions WHERE active = true AND event_type = $1 ORDER BY id", eventType)
	return subs, err
}

func (s *PostgresStore) UpdateSubscription(id int64, upd models.SubscriptionUpdate) error {
	// Partial update: COALESCE keeps the stored value for nil fields.
	var filter, notify interface{}
	if upd.Filter != nil {
		filter = []byte(*upd.Filter)
	}
	if upd.Notify != nil {
		notify = []byte(*upd.Notify)
	}
	res, err := s.db.Exec(`
		UPDATE event_subscriptions
		SET name        = COALESCE($1, name),
		    description = COALESCE($2, description),
		    event_type  = COALESCE($3, event_type),
		    filter      = COALESCE($4, filter),
		    notify      = COALESCE($5, notify),
		    active      = COALESCE($6, active),
		    updated_at  = CURRENT_TIMESTAMP
		WHERE id = $7`,
		upd.Name, upd.Description, upd.EventType, filter, notify, upd.Active, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteSubscription(id int64) error {
	res, err := s.db.Exec("DELETE FROM event_subscriptions WHERE id = $1", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveNotification(n models.Notification) (int64, error) {
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO notifications (recipient, title, message, type, priority, status, created_at, sent_at, delivered_at, read_at, related_entity, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		n.Recipient, n.Title, n.Message, n.Type, n.Priority, n.Status, n.CreatedAt, n.SentAt, n.DeliveredAt, n.ReadAt, n.RelatedEntity, []byte(n.Metadata)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save notification: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetNotification(id int64) (models.Notification, error) {
	var n models.Notification
	err := s.db.Get(&n, "SELECT * FROM notifications WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Notification{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Notification{}, err
	}
	return n, nil
}

func (s *PostgresStore) ListNotifications(recipient string) ([]models.Notification, error) {
	notifications := []models.Notification{}
	if recipient == "" {
		err := s.db.Select(&notifications, "SELECT * FROM notifications ORDER BY created_at DESC")
		return notifications, err
	}
	err := s.db.Select(&notifications, "SELECT * FROM notifications WHERE recipient = $1 ORDER BY created_at DESC", recipient)
	return notifications, err
}

func (s *PostgresStore) UpdateNotificationStatus(id int64, status models.NotificationStatus, at time.Time) error {
	res, err := s.db.Exec(`
		UPDATE notifications
		SET status = $1,
		    sent_at = CASE WHEN $2 IN ('DELIVERED', 'FAILED') THEN $3 ELSE sent_at END,
		    delivered_at = CASE WHEN $4 = 'DELIVERED' THEN $5 ELSE delivered_at END
		WHERE id = $6 AND status = 'CREATED'`,
		// Parameters inside CASE clauses are typed separately, so the status
		// and timestamp are passed more than once.
		status, status, at, status, at, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
