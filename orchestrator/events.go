package orchestrator

// EventKind names a notification published to API subscribers (§6).
type EventKind string

const (
	EventUsbConnected    EventKind = "usb_connected"
	EventUsbDisconnected EventKind = "usb_disconnected"
	EventUsbAttached     EventKind = "usb_attached"
	EventUsbDetached     EventKind = "usb_detached"
	EventUsbSelectVm     EventKind = "usb_select_vm"
	EventPciAttached     EventKind = "pci_attached"
	EventPciDetached     EventKind = "pci_detached"
)

// Event is a single notification, shaped for direct JSON marshaling by
// the API layer (§6: `{"event": <string>, ...}`).
type Event struct {
	Kind        EventKind
	DeviceNode  string   // usb events
	PciAddress  string   // pci events
	Vm          string   // attached/detached events
	AllowedVms  []string // usb_select_vm
}

const subscriberQueueSize = 64

// subscriber is one API connection's notification channel. §4.7/§5: a
// slow consumer that can't keep up is disconnected rather than allowed
// to block the Orchestrator's serial loop; closed signals the API layer
// to tear the connection down.
type subscriber struct {
	ch     chan Event
	closed chan struct{}
}

func newSubscriber() *subscriber {
	return &subscriber{
		ch:     make(chan Event, subscriberQueueSize),
		closed: make(chan struct{}),
	}
}

// publish fans ev out to every live subscriber. Subscribers are visited
// in map order, so there is no order across clients; each client's own
// queue still receives events in this Orchestrator's commit order (§5). A
// subscriber whose queue is full is dropped — state is never rolled
// back to accommodate a slow client.
func (o *Orchestrator) publish(ev Event) {
	for id, sub := range o.subscribers {
		select {
		case sub.ch <- ev:
		default:
			o.log.WithField("subscriber", id).Warn("notification queue overflowed, disconnecting client")
			close(sub.closed)
			delete(o.subscribers, id)
		}
	}
}
