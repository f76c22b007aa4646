package candidates

// Default refill marks of the automatic queues.
const (
	SongLowWater  = 25
	SongTarget    = 50
	AlbumLowWater = 5
	AlbumTarget   = 10
)

// RefillPolicy tells a queue when to ask for more candidates and how many.
type RefillPolicy struct {
	LowWater int
	Target   int
}

// AutoPolicy returns the default policy of the continuously refilled queue.
func AutoPolicy(kind Kind) RefillPolicy {
	if kind == KindAlbums {
		return RefillPolicy{LowWater: AlbumLowWater, Target: AlbumTarget}
	}
	return RefillPolicy{LowWater: SongLowWater, Target: SongTarget}
}

// ManualPolicy is used by one shot fills: exactly count entries.
func ManualPolicy(count int) RefillPolicy {
	return RefillPolicy{LowWater: count, Target: count}
}

// Queue is an ordered buffer of candidates consumed from the head. It is
// owned by a single goroutine and is not safe for concurrent use.
type Queue struct {
	name   string
	policy RefillPolicy
	items  []Candidate
}

// NewQueue creates an empty queue.
func NewQueue(name string, policy RefillPolicy) *Queue {
	return &Queue{name: name, policy: policy}
}

// Name identifies the queue in logs.
func (q *Queue) Name() string { return q.name }

// Policy returns the refill policy.
func (q *Queue) Policy() RefillPolicy { return q.policy }

// SetPolicy replaces the refill policy.
func (q *Queue) SetPolicy(p RefillPolicy) { q.policy = p }

// Len returns the number of queued candidates.
func (q *Queue) Len() int { return len(q.items) }

// NeedsRefill reports whether the queue is below its low-water mark.
func (q *Queue) NeedsRefill() bool { return len(q.items) < q.policy.LowWater }

// Deficit returns how many candidates bring the queue to its target.
func (q *Queue) Deficit() int {
	if d := q.policy.Target - len(q.items); d > 0 {
		return d
	}
	return 0
}

// Push appends candidates at the tail.
func (q *Queue) Push(c ...Candidate) { q.items = append(q.items, c...) }

// PushFront puts c back at the head.
func (q *Queue) PushFront(c Candidate) {
	q.items = append([]Candidate{c}, q.items...)
}

// Pop removes and returns the head.
func (q *Queue) Pop() (Candidate, bool) {
	if len(q.items) == 0 {
		return Candidate{}, false
	}
	c := q.items[0]
	q.items[0] = Candidate{}
	q.items = q.items[1:]
	return c, true
}

// Items returns a copy of the queued candidates, head first.
func (q *Queue) Items() []Candidate {
	return append([]Candidate(nil), q.items...)
}

// Clear drops every candidate.
func (q *Queue) Clear() { q.items = nil }
