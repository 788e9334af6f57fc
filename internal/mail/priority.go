package mail

import "fmt"

// Priority is the dispatch tier of a queued message. The integer value is
// also the storage code, so lower values are more eligible for dispatch.
type Priority int

const (
	High     Priority = 1
	Medium   Priority = 2
	Low      Priority = 3
	Deferred Priority = 4
)

// DefaultPriority is used when a producer does not name a priority.
const DefaultPriority = Medium

var priorityNames = map[string]Priority{
	"high":     High,
	"medium":   Medium,
	"low":      Low,
	"deferred": Deferred,
}

// ParsePriority maps a symbolic priority name to a Priority. Names are
// matched exactly; anything else fails with ErrInvalidPriority.
func ParsePriority(name string) (Priority, error) {
	p, ok := priorityNames[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, name)
	}
	return p, nil
}

// PriorityFromCode maps a storage code back to a Priority.
func PriorityFromCode(code int) (Priority, error) {
	p := Priority(code)
	if !p.Valid() {
		return 0, fmt.Errorf("%w: code %d", ErrInvalidPriority, code)
	}
	return p, nil
}

// ActivePriorities returns the dispatchable tiers in dispatch order.
func ActivePriorities() []Priority {
	return []Priority{High, Medium, Low}
}

// Valid reports whether p is one of the four known priorities.
func (p Priority) Valid() bool {
	return p >= High && p <= Deferred
}

// IsDeferred reports whether p removes a message from normal dispatch.
func (p Priority) IsDeferred() bool {
	return p == Deferred
}

// Code returns the storage code for p.
func (p Priority) Code() int {
	return int(p)
}

// Less reports whether p is dispatched before o.
func (p Priority) Less(o Priority) bool {
	return p < o
}

func (p Priority) String() string {
	switch p {
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	case Deferred:
		return "deferred"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}
