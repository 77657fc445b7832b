package order

// Status is the order lifecycle state.
type Status string

const (
	StatusPending        Status = "pending"
	StatusPaymentPending Status = "payment_pending"
	StatusPaymentFailed  Status = "payment_failed"
	StatusProcessing     Status = "processing"
	StatusShipped        Status = "shipped"
	StatusDelivered      Status = "delivered"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusReturned       Status = "returned"
	StatusRefunded       Status = "refunded"
)

// transitions is the fixed adjacency table. Any edge not listed here is
// rejected with an invalid_status_transition domain error.
var transitions = map[Status][]Status{
	StatusPending:        {StatusPaymentPending, StatusCancelled},
	StatusPaymentPending: {StatusProcessing, StatusPaymentFailed},
	StatusPaymentFailed:  {StatusPaymentPending, StatusCancelled},
	StatusProcessing:     {StatusShipped, StatusCancelled},
	StatusShipped:        {StatusDelivered, StatusReturned},
	StatusDelivered:      {StatusCompleted, StatusReturned},
	StatusCompleted:      {StatusRefunded},
	StatusReturned:       {StatusRefunded},
	StatusCancelled:      {},
	StatusRefunded:       {},
}

// TransitionAllowed reports whether the status machine permits from → to.
func TransitionAllowed(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions leave this status.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}
