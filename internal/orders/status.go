package orders

type Status string

const (
	StatusPending  Status = "pending"
	StatusSettled  Status = "settled"
	StatusRefunded Status = "refunded"
	// StatusExpired is never persisted: expiry deletes the pending row.
	StatusExpired Status = "expired"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:  {StatusSettled: true, StatusExpired: true},
	StatusSettled:  {StatusRefunded: true},
	StatusRefunded: {},
	StatusExpired:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Terminal reports whether line items and totals are frozen.
func (s Status) Terminal() bool { return s != StatusPending }
