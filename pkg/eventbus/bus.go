package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/gmaisuradze-adm/it-asset-management-sub001/internal/metrics"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/models"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/notify"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/storage"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/subscription"
)

// Logger defines the logging interface for the Bus.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// SideAction is an event-triggered hook executed after subscription
// notifications. Failures are isolated into the processing result.
type SideAction func(ctx context.Context, e models.WorkflowEvent) error

// ProcessingResult reports the outcome of processing a single event.
// Per-subscription failures land in Errors without aborting the siblings.
type ProcessingResult struct {
	EventID           string        `json:"event_id"`
	Processed         bool          `json:"processed"`
	AlreadyProcessed  bool          `json:"already_processed"`
	MatchedSubscribers int          `json:"matched_subscribers"`
	NotificationsSent int           `json:"notifications_sent"`
	Errors            []string      `json:"errors,omitempty"`
	Duration          time.Duration `json:"duration"`
}

// BatchProcessingResult aggregates independent per-event outcomes.
type BatchProcessingResult struct {
	ProcessedEvents int           `json:"processed_events"`
	FailedEvents    int           `json:"failed_events"`
	Errors          []string      `json:"errors,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// Bus is the durable event log plus its delivery machinery. It owns the
// event records: nothing else writes them. High-priority events are handed
// to a supervised worker right after publishing; everything else waits in
// the backlog for a polling consumer.
type Bus struct {
	store      storage.Store
	registry   *subscription.Registry
	dispatcher *notify.Dispatcher
	logger     Logger
	actions    map[models.EventType][]SideAction
	priority   *priorityWorker
	mu         sync.RWMutex
}

func NewBus(store storage.Store, registry *subscription.Registry, dispatcher *notify.Dispatcher, logger Logger) *Bus {
	b := &Bus{
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger,
		actions:    make(map[models.EventType][]SideAction),
	}
	b.priority = newPriorityWorker(b, logger)
	return b
}

// Start launches the high-priority worker. Stop drains it.
func (b *Bus) Start(ctx context.Context) { b.priority.start(ctx) }

func (b *Bus) Stop() { b.priority.stop() }

// RegisterAction adds an event-triggered side action for one event type.
func (b *Bus) RegisterAction(t models.EventType, action SideAction) {
	b.mu.Lock()
	b.actions[t] = append(b.actions[t], action)
	b.mu.Unlock()
}

func (b *Bus) actionsFor(t models.EventType) []SideAction {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.actions[t]
}

// PublishEvent assigns identity and timestamp, persists the event as
// unprocessed, and hands high-priority types to the dispatch worker. Normal
// events stay in the backlog for batch pickup.
func (b *Bus) PublishEvent(ctx context.Context, e models.WorkflowEvent) error {
	stamped := b.stamp(e)
	if err := b.store.SaveEvent(stamped); err != nil {
		return errors.Wrapf(err, "failed to publish %s event", stamped.Type)
	}
	metrics.EventsPublished.WithLabelValues(string(stamped.Type)).Inc()
	if stamped.Type.HighPriority() {
		b.priority.enqueue(stamped)
	}
	return nil
}

// PublishEventBatch persists all events in one store call, then routes the
// high-priority ones.
func (b *Bus) PublishEventBatch(ctx context.Context, events []models.WorkflowEvent) error {
	stamped := make([]models.WorkflowEvent, len(events))
	for i, e := range events {
		stamped[i] = b.stamp(e)
	}
	if err := b.store.SaveEvents(stamped); err != nil {
		return errors.Wrap(err, "failed to publish event batch")
	}
	for _, e := range stamped {
		metrics.EventsPublished.WithLabelValues(string(e.Type)).Inc()
		if e.Type.HighPriority() {
			b.priority.enqueue(e)
		}
	}
	return nil
}

func (b *Bus) stamp(e models.WorkflowEvent) models.WorkflowEvent {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	e.Processed = false
	e.ProcessedAt = nil
	e.ProcessingResult = ""
	return e
}

// GetPendingEvents returns unprocessed events oldest-first, bounded by max.
func (b *Bus) GetPendingEvents(max int) ([]models.WorkflowEvent, error) {
	return b.store.ListPendingEvents(max)
}

// ProcessEvent runs claim-then-process-then-finalize: the conditional claim
// flips processed=false->true atomically, so under concurrent pollers at
// most one worker performs the side effects for a given event. The losing
// caller gets AlreadyProcessed and does nothing.
func (b *Bus) ProcessEvent(ctx context.Context, e models.WorkflowEvent) *ProcessingResult {
	start := time.Now()
	result := &ProcessingResult{EventID: e.ID}

	claimed, err := b.store.ClaimEvent(e.ID, start)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("claim failed: %v", err))
		result.Duration = time.Since(start)
		metrics.EventsProcessed.WithLabelValues("failed").Inc()
		return result
	}
	if !claimed {
		result.AlreadyProcessed = true
		result.Duration = time.Since(start)
		return result
	}

	subs, err := b.registry.GetActiveSubscriptions(e.Type)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("subscription lookup failed: %v", err))
	}

	var requests []notify.NotificationRequest
	for _, sub := range subs {
		matched, err := subscription.MatchesFilter(sub.Filter, e.Payload)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("subscription '%s': %v", sub.Name, err))
			continue
		}
		if !matched {
			continue
		}
		result.MatchedSubscribers++
		tmpl, err := subscription.ParseTemplate(sub.Notify)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("subscription '%s': %v", sub.Name, err))
			continue
		}
		requests = append(requests, notify.NotificationRequest{
			Recipient:     tmpl.Recipient,
			Title:         tmpl.Title,
			Message:       tmpl.Message,
			Type:          tmpl.Channel,
			Priority:      tmpl.Priority,
			RelatedEntity: fmt.Sprintf("event:%s", e.ID),
			Metadata:      e.Payload,
		})
	}

	if len(requests) > 0 {
		batch, err := b.dispatcher.SendNotificationBatch(ctx, requests)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("notification batch failed: %v", err))
		} else {
			result.NotificationsSent = batch.Sent
			for _, r := range batch.Results {
				if !r.Success {
					result.Errors = append(result.Errors, fmt.Sprintf("notification delivery: %s", r.Message))
				}
			}
		}
	}

	for _, action := range b.actionsFor(e.Type) {
		if err := runAction(ctx, action, e); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("side action: %v", err))
		}
	}

	summary := fmt.Sprintf("matched=%d sent=%d errors=%d", result.MatchedSubscribers, result.NotificationsSent, len(result.Errors))
	if len(result.Errors) > 0 {
		summary += ": " + strings.Join(result.Errors, "; ")
	}
	if err := b.store.SetEventResult(e.ID, summary); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("finalize failed: %v", err))
	}

	result.Processed = true
	result.Duration = time.Since(start)
	metrics.EventProcessingDuration.Observe(result.Duration.Seconds())
	if len(result.Errors) > 0 {
		metrics.EventsProcessed.WithLabelValues("failed").Inc()
	} else {
		metrics.EventsProcessed.WithLabelValues("processed").Inc()
	}
	return result
}

// runAction isolates a side action: a panic becomes an error entry instead
// of taking down the worker.
func runAction(ctx context.Context, action SideAction, e models.WorkflowEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panicked: %v", r)
		}
	}()
	return action(ctx, e)
}

// ProcessEventBatch processes events independently and concurrently. One
// event's failure never blocks the others.
func (b *Bus) ProcessEventBatch(ctx context.Context, events []models.WorkflowEvent) *BatchProcessingResult {
	start := time.Now()
	batch := &BatchProcessingResult{}
	results := make([]*ProcessingResult, len(events))

	var wg sync.WaitGroup
	for i, e := range events {
		wg.Add(1)
		go func(i int, e models.WorkflowEvent) {
			defer wg.Done()
			results[i] = b.ProcessEvent(ctx, e)
		}(i, e)
	}
	wg.Wait()

	for _, r := range results {
		if len(r.Errors) > 0 {
			batch.FailedEvents++
			for _, msg := range r.Errors {
				batch.Errors = append(batch.Errors, fmt.Sprintf("event %s: %s", r.EventID, msg))
			}
		} else {
			batch.ProcessedEvents++
		}
	}
	batch.Duration = time.Since(start)
	return batch
}

// MarkProcessed flips an event to processed with the given result text. It
// is idempotent: marking an already-processed event returns false, nil.
func (b *Bus) MarkProcessed(ctx context.Context, eventID, result string) (bool, error) {
	ok, err := b.store.MarkEventProcessed(eventID, result, time.Now())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, errors.Wrapf(err, "event %s", eventID)
		}
		return false, err
	}
	return ok, nil
}
