package socketio

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Event names broadcast to partition rooms.
const (
	EventQueueChanged   = "queueChanged"
	EventJukeboxError   = "jukeboxError"
	EventJukeboxWarning = "jukeboxWarning"
)

// DefaultQueueWindow collapses the burst of queue changes produced by
// moving several candidates into one broadcast.
const DefaultQueueWindow = 50 * time.Millisecond

// Broadcaster delivers an event to every client of a room.
type Broadcaster interface {
	BroadcastToRoom(namespace, room, event string, args ...interface{}) bool
}

// PartitionEvent is the payload of partition scoped broadcasts.
type PartitionEvent struct {
	Partition string `json:"partition"`
	Message   string `json:"message,omitempty"`
}

// RoomName returns the room of clients following partition.
func RoomName(partition string) string {
	return "partition:" + partition
}

// Notifier broadcasts jukebox events to the room of their partition.
// Queue changes are debounced per partition; errors and warnings are
// sent immediately.
type Notifier struct {
	broadcaster Broadcaster
	debouncer   *BroadcastDebouncer
}

// NewNotifier creates a notifier; window <= 0 uses DefaultQueueWindow.
func NewNotifier(b Broadcaster, window time.Duration) *Notifier {
	if window <= 0 {
		window = DefaultQueueWindow
	}
	n := &Notifier{broadcaster: b}
	n.debouncer = NewBroadcastDebouncer(window, n.broadcastQueueChanged)
	return n
}

// QueueChanged schedules a queueChanged broadcast for partition.
func (n *Notifier) QueueChanged(partition string) {
	n.debouncer.Trigger(partition)
}

// JukeboxError broadcasts a fill failure.
func (n *Notifier) JukeboxError(partition, message string) {
	log.Warn().Str("partition", partition).Str("message", message).Msg("Jukebox error")
	n.broadcast(partition, EventJukeboxError, PartitionEvent{Partition: partition, Message: message})
}

// JukeboxWarning broadcasts a non fatal jukebox condition such as a
// shortfall.
func (n *Notifier) JukeboxWarning(partition, message string) {
	log.Info().Str("partition", partition).Str("message", message).Msg("Jukebox warning")
	n.broadcast(partition, EventJukeboxWarning, PartitionEvent{Partition: partition, Message: message})
}

// Stop drops pending queue broadcasts.
func (n *Notifier) Stop() {
	n.debouncer.Stop()
}

func (n *Notifier) broadcastQueueChanged(partition string) {
	n.broadcast(partition, EventQueueChanged, PartitionEvent{Partition: partition})
}

func (n *Notifier) broadcast(partition, event string, payload PartitionEvent) {
	if n.broadcaster == nil {
		return
	}
	if !n.broadcaster.BroadcastToRoom("/", RoomName(partition), event, payload) {
		log.Debug().Str("partition", partition).Str("event", event).Msg("Broadcast namespace not registered")
	}
}
