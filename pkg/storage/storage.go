package storage

import (
	"time"

	"github.com/pkg/errors"

	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store defines the durable state owned by the orchestration core: workflow
// instances and their step log (owned by the engine), the event log (owned by
// the event bus), subscriptions and notifications.
//
// Begin returns a transactional view of the same interface; Commit/Rollback
// only apply to stores obtained from Begin.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Workflow instance operations.
	SaveWorkflowInstance(wi models.WorkflowInstance) error
	GetWorkflowInstance(id string) (models.WorkflowInstance, error)
	ListWorkflowInstances() ([]models.WorkflowInstance, error)
	UpdateWorkflowInstance(id string, status models.WorkflowStatus, currentStep int, errMsg string, finishedAt *time.Time) error

	// Step operations. Steps are append-only.
	AppendWorkflowStep(step models.WorkflowStep) (int64, error)
	ListWorkflowSteps(workflowID string) ([]models.WorkflowStep, error)

	// Event operations. Events are append-only; the processed flag flips
	// exactly once.
	SaveEvent(e models.WorkflowEvent) error
	SaveEvents(events []models.WorkflowEvent) error
	GetEvent(id string) (models.WorkflowEvent, error)
	ListPendingEvents(max int) ([]models.WorkflowEvent, error)
	ListRecentEvents(workflowID string, max int) ([]models.WorkflowEvent, error)

	// ClaimEvent atomically flips processed from false to true and reports
	// whether this caller won the claim. Losing the claim is not an error.
	ClaimEvent(id string, at time.Time) (bool, error)
	// SetEventResult records the processing outcome of a claimed event.
	SetEventResult(id string, result string) error
	// MarkEventProcessed is the idempotent public form: false (no error) when
	// the event was already processed.
	MarkEventProcessed(id string, result string, at time.Time) (bool, error)

	// Subscription operations.
	SaveSubscription(sub models.EventSubscription) (int64, error)
	GetSubscription(id int64) (models.EventSubscription, error)
	ListSubscriptions() ([]models.EventSubscription, error)
	// ListActiveSubscriptions returns active subscriptions, optionally
	// restricted to one event type ("" matches all).
	ListActiveSubscriptions(eventType models.EventType) ([]models.EventSubscription, error)
	UpdateSubscription(id int64, upd models.SubscriptionUpdate) error
	DeleteSubscription(id int64) error

	// Notification operations.
	SaveNotification(n models.Notification) (int64, error)
	GetNotification(id int64) (models.Notification, error)
	ListNotifications(recipient string) ([]models.Notification, error)
	UpdateNotificationStatus(id int64, status models.NotificationStatus, at time.Time) error
}
