package subscription

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/pkg/errors"

	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/models"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/storage"
)

// Logger defines the logging interface for the Registry.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Registry manages event subscriptions. Subscriptions are CRUD-managed here
// and evaluated read-only by the event bus during processing.
type Registry struct {
	store  storage.Store
	logger Logger
}

func NewRegistry(store storage.Store, logger Logger) *Registry {
	return &Registry{store: store, logger: logger}
}

// Create validates and stores a new subscription. Active defaults to true.
func (r *Registry) Create(sub models.EventSubscription) (int64, error) {
	if sub.Name == "" {
		return 0, errors.New("subscription name cannot be empty")
	}
	if sub.EventType == "" {
		return 0, errors.New("subscription event type cannot be empty")
	}
	if _, err := ParseTemplate(sub.Notify); err != nil {
		return 0, errors.Wrap(err, "invalid notification template")
	}
	now := time.Now()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	sub.Active = true
	id, err := r.store.SaveSubscription(sub)
	if err != nil {
		return 0, errors.Wrap(err, "failed to save subscription")
	}
	r.logger.Infof("Created subscription '%s' (%d) for event type '%s'", sub.Name, id, sub.EventType)
	return id, nil
}

func (r *Registry) Get(id int64) (models.EventSubscription, error) {
	return r.store.GetSubscription(id)
}

func (r *Registry) List() ([]models.EventSubscription, error) {
	return r.store.ListSubscriptions()
}

// GetActiveSubscriptions returns only active subscriptions, optionally
// restricted to one event type ("" matches all types).
func (r *Registry) GetActiveSubscriptions(eventType models.EventType) ([]models.EventSubscription, error) {
	return r.store.ListActiveSubscriptions(eventType)
}

// Update applies a partial update: nil fields keep their stored value.
func (r *Registry) Update(id int64, upd models.SubscriptionUpdate) error {
	if upd.Notify != nil {
		if _, err := ParseTemplate(*upd.Notify); err != nil {
			return errors.Wrap(err, "invalid notification template")
		}
	}
	if err := r.store.UpdateSubscription(id, upd); err != nil {
		return err
	}
	r.logger.Infof("Updated subscription %d", id)
	return nil
}

func (r *Registry) Delete(id int64) error {
	if err := r.store.DeleteSubscription(id); err != nil {
		return err
	}
	r.logger.Infof("Deleted subscription %d", id)
	return nil
}

// ParseTemplate deserializes a subscription's notification configuration.
func ParseTemplate(raw json.RawMessage) (models.NotificationTemplate, error) {
	var tmpl models.NotificationTemplate
	if len(raw) == 0 {
		return tmpl, errors.New("notification template is empty")
	}
	if err := json.Unmarshal(raw, &tmpl); err != nil {
		return tmpl, err
	}
	if tmpl.Recipient == "" {
		return tmpl, errors.New("notification template requires a recipient")
	}
	if tmpl.Channel == "" {
		tmpl.Channel = models.InAppNotification
	}
	return tmpl, nil
}

// MatchesFilter evaluates a subscription's filter predicate against an event
// payload. The filter is a JSON object of top-level field -> expected value;
// an empty filter matches everything. A malformed filter or payload is an
// error so the bus can report it per subscription.
func MatchesFilter(filter json.RawMessage, payload json.RawMessage) (bool, error) {
	if len(filter) == 0 {
		return true, nil
	}
	var want map[string]interface{}
	if err := json.Unmarshal(filter, &want); err != nil {
		return false, errors.Wrap(err, "malformed subscription filter")
	}
	if len(want) == 0 {
		return true, nil
	}
	var got map[string]interface{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &got); err != nil {
			return false, errors.Wrap(err, "malformed event payload")
		}
	}
	for field, expected := range want {
		actual, ok := got[field]
		if !ok || !reflect.DeepEqual(expected, actual) {
			return false, nil
		}
	}
	return true, nil
}
