package orders

// Event is something that happened to an order.
type Event string

const (
	EventEscrowCreated     Event = "escrowCreated"
	EventShipped           Event = "shipped"
	EventDeliveryPickedUp  Event = "deliveryPickedUp"
	EventDeliveryCompleted Event = "deliveryCompleted"
	EventBuyerConfirms     Event = "buyerConfirms"
	EventEscrowReleased    Event = "escrowReleased"
	EventEscrowRefunded    Event = "escrowRefunded"
	EventEscrowDisputed    Event = "escrowDisputed"
	EventBuyerCancelled    Event = "buyerCancelled"
)

type transition struct {
	from []Status
	to   Status
}

// fulfilment covers every status in which the buyer's money sits in escrow.
var fulfilment = []Status{StatusPaymentHeld, StatusShipped, StatusInTransit, StatusDelivered}

var transitions = map[Event]transition{
	EventEscrowCreated:     {from: []Status{StatusPendingPayment}, to: StatusPaymentHeld},
	EventShipped:           {from: []Status{StatusPaymentHeld}, to: StatusShipped},
	EventDeliveryPickedUp:  {from: []Status{StatusPaymentHeld, StatusShipped}, to: StatusInTransit},
	EventDeliveryCompleted: {from: []Status{StatusShipped, StatusInTransit}, to: StatusDelivered},
	EventBuyerConfirms:     {from: []Status{StatusDelivered}, to: StatusCompleted},
	EventEscrowReleased:    {from: fulfilment, to: StatusCompleted},
	EventEscrowRefunded:    {from: append(append([]Status(nil), fulfilment...), StatusDisputed), to: StatusCancelled},
	EventEscrowDisputed:    {from: fulfilment, to: StatusDisputed},
	EventBuyerCancelled:    {from: []Status{StatusPendingPayment}, to: StatusCancelled},
}

// sellerEvents maps the statuses a seller may set to the event they raise.
var sellerEvents = map[Status]Event{
	StatusShipped:   EventShipped,
	StatusInTransit: EventDeliveryPickedUp,
	StatusDelivered: EventDeliveryCompleted,
}

func lookup(event Event) (transition, bool) {
	t, ok := transitions[event]
	return t, ok
}

func (t transition) allows(s Status) bool {
	for _, f := range t.from {
		if f == s {
			return true
		}
	}
	return false
}
