package contracts

// DeliveryStatus is the outcome of a single push-delivery attempt.
type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

// DeliveryTicket records the result of pushing to one device token. Tickets
// are never persisted; they exist for logging and for synchronous callers.
type DeliveryTicket struct {
	Token  string
	Status DeliveryStatus
	Detail string
}

// Failed reports whether the ticket records a failed attempt.
func (t DeliveryTicket) Failed() bool {
	return t.Status == DeliveryFailed
}

// FailedTickets filters a batch down to its failures.
func FailedTickets(tickets []DeliveryTicket) []DeliveryTicket {
	var failed []DeliveryTicket
	for _, t := range tickets {
		if t.Failed() {
			failed = append(failed, t)
		}
	}
	return failed
}
