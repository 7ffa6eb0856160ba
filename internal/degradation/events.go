package degradation

// MaxEventCapacity is the most events any EventLog retains.
const MaxEventCapacity = 100

// EventLog is a fixed-capacity circular buffer of events. Once full, each
// append overwrites the oldest entry. It is not safe for concurrent use; the
// Engine guards it with its own lock.
type EventLog struct {
	buf   []Event
	head  int // index of the oldest event
	count int
}

// NewEventLog creates an event log that keeps at most capacity events.
// Capacities outside [1, MaxEventCapacity] use MaxEventCapacity.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 || capacity > MaxEventCapacity {
		capacity = MaxEventCapacity
	}
	return &EventLog{buf: make([]Event, capacity)}
}

// Append records an event, evicting the oldest one when full.
func (l *EventLog) Append(e Event) {
	if l.count < len(l.buf) {
		l.buf[(l.head+l.count)%len(l.buf)] = e
		l.count++
		return
	}
	l.buf[l.head] = e
	l.head = (l.head + 1) % len(l.buf)
}

// Recent returns up to limit of the newest events, oldest first.
// A non-positive limit returns every retained event.
func (l *EventLog) Recent(limit int) []Event {
	if limit <= 0 || limit > l.count {
		limit = l.count
	}
	out := make([]Event, limit)
	start := l.count - limit
	for i := 0; i < limit; i++ {
		out[i] = l.buf[(l.head+start+i)%len(l.buf)]
	}
	return out
}

// Len returns the number of retained events.
func (l *EventLog) Len() int {
	return l.count
}

// Cap returns the retention capacity.
func (l *EventLog) Cap() int {
	return len(l.buf)
}
