package storage

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/models"
)

// mockStore implements Store with in-memory slices. It is safe for the
// concurrent access exercised by batch event processing. Transactions are
// not isolated: Begin hands back the same store and Commit/Rollback are
// no-ops, which is enough for unit tests.
type mockStore struct {
	mu            sync.Mutex
	instances     []models.WorkflowInstance
	steps         []models.WorkflowStep
	events        []models.WorkflowEvent
	subscriptions []models.EventSubscription
	notifications []models.Notification
	nextStepID    int64
	nextSubID     int64
	nextNotifID   int64
}

// NewMockStore returns an empty in-memory store for tests and examples.
func NewMockStore() Store {
	return &mockStore{}
}

func (m *mockStore) Begin() (Store, error) { return m, nil }

func (m *mockStore) Commit() error { return nil }

func (m *mockStore) Rollback() error { return nil }

func (m *mockStore) Close() error { return nil }

func (m *mockStore) SaveWorkflowInstance(wi models.WorkflowInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.instances {
		if existing.ID == wi.ID {
			return errors.New("workflow instance already exists")
		}
	}
	m.instances = append(m.instances, wi)
	return nil
}

func (m *mockStore) GetWorkflowInstance(id string) (models.WorkflowInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, wi := range m.instances {
		if wi.ID == id {
			return wi, nil
		}
	}
	return models.WorkflowInstance{}, ErrNotFound
}

func (m *mockStore) ListWorkflowInstances() ([]models.WorkflowInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.WorkflowInstance, len(m.instances))
	copy(out, m.instances)
	return out, nil
}

func (m *mockStore) UpdateWorkflowInstance(id string, status models.WorkflowStatus, currentStep int, errMsg string, finishedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, wi := range m.instances {
		if wi.ID == id {
			m.instances[i].Status = status
			m.instances[i].CurrentStep = currentStep
			m.instances[i].ErrorMsg = errMsg
			m.instances[i].FinishedAt = finishedAt
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) AppendWorkflowStep(step models.WorkflowStep) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextStepID++
	step.ID = m.nextStepID
	m.steps = append(m.steps, step)
	return step.ID, nil
}

func (m *mockStore) ListWorkflowSteps(workflowID string) ([]models.WorkflowStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WorkflowStep
	for _, s := range m.steps {
		if s.WorkflowID == workflowID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockStore) SaveEvent(e models.WorkflowEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveEventLocked(e)
}

func (m *mockStore) saveEventLocked(e models.WorkflowEvent) error {
	for _, existing := range m.events {
		if existing.ID == e.ID {
			return errors.New("event already exists")
		}
	}
	m.events = append(m.events, e)
	return nil
}

func (m *mockStore) SaveEvents(events []models.WorkflowEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		if err := m.saveEventLocked(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockStore) GetEvent(id string) (models.WorkflowEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.ID == id {
			return e, nil
		}
	}
	return models.WorkflowEvent{}, ErrNotFound
}

func (m *mockStore) ListPendingEvents(max int) ([]models.WorkflowEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WorkflowEvent
	for _, e := range m.events {
		if !e.Processed {
			out = append(out, e)
			if max > 0 && len(out) == max {
				break
			}
		}
	}
	return out, nil
}

func (m *mockStore) ListRecentEvents(workflowID string, max int) ([]models.WorkflowEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WorkflowEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].WorkflowID == workflowID {
			out = append(out, m.events[i])
			if max > 0 && len(out) == max {
				break
			}
		}
	}
	return out, nil
}

func (m *mockStore) ClaimEvent(id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.events {
		if e.ID == id {
			if e.Processed {
				return false, nil
			}
			m.events[i].Processed = true
			m.events[i].ProcessedAt = &at
			m.events[i].ProcessingResult = "claimed"
			return true, nil
		}
	}
	return false, ErrNotFound
}

func (m *mockStore) SetEventResult(id string, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.events {
		if e.ID == id {
			m.events[i].ProcessingResult = result
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) MarkEventProcessed(id string, result string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.events {
		if e.ID == id {
			if e.Processed {
				return false, nil
			}
			m.events[i].Processed = true
			m.events[i].ProcessedAt = &at
			m.events[i].ProcessingResult = result
			return true, nil
		}
	}
	return false, ErrNotFound
}

func (m *mockStore) SaveSubscription(sub models.EventSubscription) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSubID++
	sub.ID = m.nextSubID
	m.subscriptions = append(m.subscriptions, sub)
	return sub.ID, nil
}

func (m *mockStore) GetSubscription(id int64) (models.EventSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subscriptions {
		if s.ID == id {
			return s, nil
		}
	}
	return models.EventSubscription{}, ErrNotFound
}

func (m *mockStore) ListSubscriptions() ([]models.EventSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.EventSubscription, len(m.subscriptions))
	copy(out, m.subscriptions)
	return out, nil
}

func (m *mockStore) ListActiveSubscriptions(eventType models.EventType) ([]models.EventSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.EventSubscription
	for _, s := range m.subscriptions {
		if !s.Active {
			continue
		}
		if eventType != "" && s.EventType != eventType {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *mockStore) UpdateSubscription(id int64, upd models.SubscriptionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subscriptions {
		if s.ID != id {
			continue
		}
		if upd.Name != nil {
			m.subscriptions[i].Name = *upd.Name
		}
		if upd.Description != nil {
			m.subscriptions[i].Description = *upd.Description
		}
		if upd.EventType != nil {
			m.subscriptions[i].EventType = *upd.EventType
		}
		if upd.Filter != nil {
			m.subscriptions[i].Filter = *upd.Filter
		}
		if upd.Notify != nil {
			m.subscriptions[i].Notify = *upd.Notify
		}
		if upd.Active != nil {
			m.subscriptions[i].Active = *upd.Active
		}
		m.subscriptions[i].UpdatedAt = time.Now()
		return nil
	}
	return ErrNotFound
}

func (m *mockStore) DeleteSubscription(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subscriptions {
		if s.ID == id {
			m.subscriptions = append(m.subscriptions[:i], m.subscriptions[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) SaveNotification(n models.Notification) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextNotifID++
	n.ID = m.nextNotifID
	m.notifications = append(m.notifications, n)
	return n.ID, nil
}

func (m *mockStore) GetNotification(id int64) (models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifications {
		if n.ID == id {
			return n, nil
		}
	}
	return models.Notification{}, ErrNotFound
}

func (m *mockStore) ListNotifications(recipient string) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for _, n := range m.notifications {
		if recipient == "" || n.Recipient == recipient {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *mockStore) UpdateNotificationStatus(id int64, status models.NotificationStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.notifications {
		if n.ID != id {
			continue
		}
		// Monotonic: a delivered or failed notification never regresses.
		if n.Status != models.CreatedNotificationStatus && status == models.CreatedNotificationStatus {
			return errors.New("notification status cannot regress to created")
		}
		m.notifications[i].Status = status
		switch status {
		case models.DeliveredNotificationStatus:
			m.notifications[i].SentAt = &at
			m.notifications[i].DeliveredAt = &at
		case models.FailedNotificationStatus:
			m.notifications[i].SentAt = &at
		}
		return nil
	}
	return ErrNotFound
}
