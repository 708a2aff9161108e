package apiclient

import (
	"net/http"

	"github.com/soboure69/My-Portefolio-data-science/internal/events"
)

type EventKind string

const (
	EventStart   EventKind = "request:start"
	EventSuccess EventKind = "request:success"
	EventError   EventKind = "request:error"
	EventFail    EventKind = "request:fail"
	EventEnd     EventKind = "request:end"
)

// Event describes one step of a request lifecycle.
// Every network call emits start, then success or (error) fail, then end
type Event struct {
	Kind   EventKind
	Method string
	URL    string

	// Request payload, set on start
	Payload any

	// Set on success and error
	Status     int
	StatusText string

	// Set on success
	Header http.Header
	Data   any

	// Set on error and fail
	Err error
}

type (
	Observer     = events.Observer[Event]
	ObserverFunc = events.ObserverFunc[Event]
	Bus          = events.Bus[Event]
)

func NewBus() *Bus {
	return events.NewBus[Event]()
}
