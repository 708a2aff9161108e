package auth

import (
	"github.com/soboure69/My-Portefolio-data-science/internal/events"
	"github.com/soboure69/My-Portefolio-data-science/internal/models"
)

type State string

const (
	StateAnonymous     State = "anonymous"
	StateAuthenticated State = "authenticated"
	StateRefreshing    State = "refreshing"
	StateExpired       State = "expired"
)

type EventKind string

const (
	EventLogin   EventKind = "login"
	EventRefresh EventKind = "refresh"
	EventLogout  EventKind = "logout"
)

// Event is published after session changed.
// State is the session state right after the change
type Event struct {
	Kind  EventKind
	State State
	User  *models.User
}

type (
	Observer     = events.Observer[Event]
	ObserverFunc = events.ObserverFunc[Event]
)
