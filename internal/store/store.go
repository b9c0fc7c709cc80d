package store

import (
	"context"
	"errors"
	"time"

	"github.com/sablesec/strikepoint/internal/journeys"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrJourneyTerminal is returned when a write targets a journey that has
	// already reached a terminal status. Terminal journeys are immutable.
	ErrJourneyTerminal = errors.New("journey is in a terminal state")
)

// JourneyStore persists journeys. Implementations reject status or results
// writes against terminal journeys with ErrJourneyTerminal.
type JourneyStore interface {
	CreateJourney(ctx context.Context, j *journeys.Journey) error
	GetJourney(ctx context.Context, id string) (*journeys.Journey, error)
	ListJourneys(ctx context.Context, tenantID string) ([]*journeys.Journey, error)
	SetJourneyStarted(ctx context.Context, id string, at time.Time) error
	UpdateJourneyStatus(ctx context.Context, id string, status journeys.Status, results *journeys.Results) error
}
