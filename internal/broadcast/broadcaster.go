// Package broadcast fans out the event log to connected listeners. A 500 ms
// poll (shortened by watcher wakeups) reads unconsumed events, enriches bare
// ids into full entities, publishes over the pubsub broker, and advances the
// broadcaster cursor. Slow listeners drop messages rather than stall the loop.
package broadcast

import (
	"context"
	"errors"
	"time"

	"github.com/viberelay/relay/internal/events"
	"github.com/viberelay/relay/internal/log"
	"github.com/viberelay/relay/internal/pubsub"
	"github.com/viberelay/relay/internal/store"
)

// PollInterval is the broadcaster tick.
const PollInterval = 500 * time.Millisecond

// Message is one enriched event delivered to listeners. The entity pointers
// are filled according to the payload's references; a reference that no
// longer resolves leaves its pointer nil.
type Message struct {
	EventID   string         `json:"event_id"`
	Type      events.Type    `json:"type"`
	Payload   events.Payload `json:"payload"`
	Project   *store.Project `json:"project,omitempty"`
	Task      *store.Task    `json:"task,omitempty"`
	Comment   *store.Comment `json:"comment,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// Broadcaster is the fan-out scheduler.
type Broadcaster struct {
	store  *store.Store
	broker *pubsub.Broker[Message]
	wake   <-chan struct{}
}

// New creates a Broadcaster. wake may be nil; when set (the watcher's change
// channel) it shortcuts the poll sleep.
func New(s *store.Store, wake <-chan struct{}) *Broadcaster {
	return &Broadcaster{
		store:  s,
		broker: pubsub.NewBroker[Message](),
		wake:   wake,
	}
}

// Subscribe registers a listener. The channel closes when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) <-chan pubsub.Event[Message] {
	return b.broker.Subscribe(ctx)
}

// SubscriberCount returns the number of connected listeners.
func (b *Broadcaster) SubscriberCount() int {
	return b.broker.SubscriberCount()
}

// Run drives the poll loop until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	log.Info(log.CatBroadcast, "Broadcaster started", "interval", PollInterval.String())
	defer b.broker.Close()

	timer := time.NewTimer(PollInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info(log.CatBroadcast, "Broadcaster stopped")
			return
		case <-b.wake:
			b.Flush(ctx)
			resetTimer(timer, PollInterval)
		case <-timer.C:
			b.Flush(ctx)
			timer.Reset(PollInterval)
		}
	}
}

func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}

// Flush publishes every currently unconsumed event and marks it consumed.
func (b *Broadcaster) Flush(ctx context.Context) {
	unconsumed, err := store.UnconsumedForBroadcast(ctx, b.store.DB())
	if err != nil {
		log.ErrorErr(log.CatBroadcast, "Failed to read unconsumed events", err)
		return
	}

	for _, event := range unconsumed {
		message, err := b.enrich(ctx, event)
		if err != nil {
			log.ErrorErr(log.CatBroadcast, "Failed to enrich event", err, "event_id", event.ID, "type", event.Type)
			// Consume anyway; a malformed payload would wedge the cursor.
		} else {
			b.broker.Publish(pubsub.EventType(event.Type), *message)
		}
		if err := store.MarkBroadcastConsumed(ctx, b.store.DB(), event.ID); err != nil {
			log.ErrorErr(log.CatBroadcast, "Failed to mark event consumed", err, "event_id", event.ID)
		}
	}
}

// enrich decodes the payload and resolves its entity references.
func (b *Broadcaster) enrich(ctx context.Context, event *store.Event) (*Message, error) {
	payload, err := events.Decode(string(event.Type), event.Payload)
	if err != nil {
		return nil, err
	}

	message := &Message{
		EventID:   event.ID,
		Type:      events.Type(event.Type),
		Payload:   payload,
		CreatedAt: event.CreatedAt,
	}

	switch p := payload.(type) {
	case *events.ProjectCreated:
		message.Project = b.project(ctx, p.ProjectID)
	case *events.ProjectUpdated:
		message.Project = b.project(ctx, p.ProjectID)
	case *events.TaskCreated:
		message.Task = b.task(ctx, p.TaskID)
	case *events.TaskMoved:
		message.Task = b.task(ctx, p.TaskID)
	case *events.TaskCancelled:
		message.Task = b.task(ctx, p.TaskID)
	case *events.TaskUncancelled:
		message.Task = b.task(ctx, p.TaskID)
	case *events.TaskUpdated:
		message.Task = b.task(ctx, p.TaskID)
	case *events.TaskReady:
		message.Task = b.task(ctx, p.TaskID)
	case *events.SubtasksCreated:
		message.Task = b.task(ctx, p.ParentTaskID)
	case *events.CommentAdded:
		message.Comment = b.comment(ctx, p.CommentID)
		message.Task = b.task(ctx, p.TaskID)
	case *events.PlanApproved:
		message.Task = b.task(ctx, p.TaskID)
	case *events.MilestoneCompleted:
		message.Task = b.task(ctx, p.TaskID)
	}
	return message, nil
}

func (b *Broadcaster) task(ctx context.Context, taskID string) *store.Task {
	task, err := store.GetTask(ctx, b.store.DB(), taskID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn(log.CatBroadcast, "Failed to load task for enrichment", "task_id", taskID, "error", err)
		}
		return nil
	}
	return task
}

func (b *Broadcaster) project(ctx context.Context, projectID string) *store.Project {
	project, err := store.GetProject(ctx, b.store.DB(), projectID)
	if err != nil {
		return nil
	}
	return project
}

func (b *Broadcaster) comment(ctx context.Context, commentID string) *store.Comment {
	comment, err := store.GetComment(ctx, b.store.DB(), commentID)
	if err != nil {
		return nil
	}
	return comment
}
