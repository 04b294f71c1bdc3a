package actor

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/task-dispatch/internal/observability"
)

// Sink is the transport behind one observer connection. Satisfied by
// *websocket.Conn; tests substitute fakes.
type Sink interface {
	WriteJSON(v interface{}) error
}

// Observer wraps a sink with a write lock so broadcasts from an actor
// and pings from elsewhere never interleave on the wire.
type Observer struct {
	mu   sync.Mutex
	sink Sink
}

func NewObserver(sink Sink) *Observer {
	return &Observer{sink: sink}
}

// NewWSObserver adapts an upgraded websocket connection.
func NewWSObserver(conn *websocket.Conn) *Observer {
	return &Observer{sink: conn}
}

func (o *Observer) Send(v interface{}) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sink.WriteJSON(v)
}

// broadcast sends frame to every observer and returns the survivors.
// A failed send drops that observer silently; the caller keeps the
// returned slice as the new set.
func broadcast(observers []*Observer, frame interface{}) []*Observer {
	alive := observers[:0]
	for _, o := range observers {
		if err := o.Send(frame); err != nil {
			continue
		}
		observability.ObserverBroadcasts.Inc()
		alive = append(alive, o)
	}
	return alive
}
