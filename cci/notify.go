package cci

import (
	"sync"

	"github.com/ardnew/cxlfab/vswitch"
)

// notifyOpcode maps a vswitch.NotifyOpcode to its CCI Opcode.
func notifyOpcode(n vswitch.NotifyOpcode) Opcode {
	switch n {
	case vswitch.NotifyPortUpdate:
		return OpNotifyPortUpdate
	case vswitch.NotifySwitchUpdate:
		return OpNotifySwitchUpdate
	case vswitch.NotifyDeviceUpdate:
		return OpNotifyDeviceUpdate
	default:
		return OpNotifyDeviceUpdate
	}
}

// Event is a CCI notification delivered to a subscriber.
type Event struct {
	Opcode Opcode
	VCSID  int
	VPPB   int
}

// Dispatcher implements vswitch.Listener, fanning out bind/unbind/port
// events raised by one or more VCS instances to subscribed CCI
// management clients. Subscribe before the VCS that will raise events
// registers this Dispatcher via VCS.AddListener.
type Dispatcher struct {
	mu          sync.Mutex
	subscribers []chan Event
}

// NewDispatcher creates an empty notification dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers a new listener and returns a channel delivering
// every subsequent event. The channel is buffered; a slow subscriber
// drops events rather than blocking the VCS that raised them.
func (d *Dispatcher) Subscribe() <-chan Event {
	ch := make(chan Event, 32)
	d.mu.Lock()
	d.subscribers = append(d.subscribers, ch)
	d.mu.Unlock()
	return ch
}

// Notify implements vswitch.Listener.
func (d *Dispatcher) Notify(n vswitch.Notification) {
	ev := Event{Opcode: notifyOpcode(n.Opcode), VCSID: n.VCSID, VPPB: n.VPPB}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
