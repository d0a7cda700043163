package orders

type Status string

const (
	StatusPendingPayment Status = "Pending Payment"
	StatusPaid           Status = "Paid"
	StatusPaymentFailed  Status = "Payment Failed"
	StatusAbandoned      Status = "Abandoned"
)

var validNext = map[Status]map[Status]bool{
	StatusPendingPayment: {StatusPaid: true, StatusPaymentFailed: true, StatusAbandoned: true},
	StatusPaid:           {},
	StatusPaymentFailed:  {},
	StatusAbandoned:      {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

func (s Status) CanTransition(to Status) bool { return CanTransition(s, to) }
