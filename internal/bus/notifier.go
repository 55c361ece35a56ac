// Package bus provides an in-process notification bus for identity
// mutations and ingest visibility.
package bus

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// NotificationType represents the type of notification.
type NotificationType int

const (
	PersonCreated NotificationType = iota
	PersonDeleted
	EventsApplied
)

// Notification represents one mutation event. PersonID is set for
// person notifications, LSN for ingest ones.
type Notification struct {
	Type      NotificationType
	TeamID    int64
	PersonID  int64
	LSN       uint64
	Timestamp int64
}

// Notifier is an in-process pub/sub bus. Publishers never block: a
// subscriber that cannot keep up loses notifications rather than
// stalling the write path.
type Notifier struct {
	subscribers sync.Map
	bufferSize  int
	nextID      uint64
}

// NewNotifier creates a new notifier instance.
func NewNotifier(bufferSize int) *Notifier {
	return &Notifier{bufferSize: bufferSize}
}

// Publish sends a notification to all matching subscribers.
// Non-blocking: if a subscriber's channel is full, the notification is dropped.
func (n *Notifier) Publish(notif Notification) {
	n.subscribers.Range(func(key, value interface{}) bool {
		sub := value.(*Subscriber)
		if sub.matches(notif) {
			select {
			case sub.Ch <- notif:
			default:
				// Channel full - drop, do NOT block the writer
			}
		}
		return true
	})
}

// Subscribe adds a subscriber. A zero teamID and empty type list
// receive everything.
func (n *Notifier) Subscribe(teamID int64, types ...NotificationType) *Subscriber {
	sub := &Subscriber{
		ID:     "sub_" + strconv.FormatUint(atomic.AddUint64(&n.nextID, 1), 10),
		TeamID: teamID,
		Types:  types,
		Ch:     make(chan Notification, n.bufferSize),
	}
	n.subscribers.Store(sub.ID, sub)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (n *Notifier) Unsubscribe(subID string) {
	if value, ok := n.subscribers.LoadAndDelete(subID); ok {
		close(value.(*Subscriber).Ch)
	}
}

// Subscriber represents a notification subscriber.
type Subscriber struct {
	ID     string
	TeamID int64
	Types  []NotificationType
	Ch     chan Notification
}

func (s *Subscriber) matches(notif Notification) bool {
	if s.TeamID != 0 && notif.TeamID != 0 && s.TeamID != notif.TeamID {
		return false
	}
	if len(s.Types) == 0 {
		return true
	}
	for _, t := range s.Types {
		if t == notif.Type {
			return true
		}
	}
	return false
}
