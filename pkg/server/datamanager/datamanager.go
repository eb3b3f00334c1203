// Package datamanager defines the trip/session persistence boundary
// the tracker endpoint talks to. The relational schema and its SQL are explicitly out of
// scope; this package only describes the interface the rest of the
// core needs and ships an in-memory reference implementation so the
// tracker endpoint can be built and tested without a real database.
package datamanager

import (
	"sync"
	"time"

	"github.com/intelcon-group/triptracker/pkg/trackcodec"
)

// Trip is the long-lived owner of sessions. Created by an operator
// and never destroyed by the core.
type Trip struct {
	ID int64
	Title string
	Description string
	StartTime time.Time
	AuthKey [32]byte
	Countries []string // ISO alpha-2, first-entry order, deduplicated
}

// Session is one tracking run. Born live (Active=true),
// becomes archived (Active=false) at termination.
type Session struct {
	ID int64
	TripID int64
	Title string
	Description string
	StartTime time.Time
	Active bool
	Hidden bool
}

// DataManager is the persistence boundary the tracker endpoint depends
// on. Implementations must be safe for concurrent use: the tracker
// endpoint runs one goroutine per connection.
type DataManager interface {
	// TripKey looks up the trip's shared MAC key, used to verify the
	// handshake MAC before any session is touched.
	TripKey(tripID int64) ([32]byte, bool)

	// CreateSession allocates a new live session under tripID and
	// returns it with a server-assigned id.
	CreateSession(tripID int64, title, description string, start time.Time) (Session, error)

	// Session returns the current record for id, live or archived.
	Session(id int64) (Session, bool)

	// EndSession archives the session and promotes its points to
	// durable storage. Called once the session buffer has been closed
	// and its final point vector is available.
	EndSession(id int64, points []trackcodec.Point) error

	// AddVisitedCountry appends code to the trip's visited-country
	// list if not already present, preserving first-entry order.
	AddVisitedCountry(tripID int64, code string) error
}

// InMemory is a reference DataManager backed by process memory. It
// exists to make the tracker endpoint buildable and testable without a
// relational database; nothing it stores survives a restart.
type InMemory struct {
	mu sync.Mutex
	trips map[int64]*Trip
	sessions map[int64]*Session
	archived map[int64][]trackcodec.Point
	nextID int64
}

// NewInMemory returns an empty in-memory DataManager.
func NewInMemory() *InMemory {
	return &InMemory{
		trips: make(map[int64]*Trip),
		sessions: make(map[int64]*Session),
		archived: make(map[int64][]trackcodec.Point),
	}
}

// AddTrip seeds a trip. Trip creation is an operator action out of
// scope for the core; tests and the server's bootstrap flag use
// this to stand in for that operator action.
func (m *InMemory) AddTrip(trip Trip) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := trip
	cp.Countries = append([]string(nil), trip.Countries...)
	m.trips[trip.ID] = &cp
}

func (m *InMemory) TripKey(tripID int64) ([32]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trip, ok := m.trips[tripID]
	if !ok {
		return [32]byte{}, false
	}
	return trip.AuthKey, true
}

func (m *InMemory) CreateSession(tripID int64, title, description string, start time.Time) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[tripID]; !ok {
		return Session{}, ErrTripNotFound
	}
	m.nextID++
	s := Session{
		ID: m.nextID,
		TripID: tripID,
		Title: title,
		Description: description,
		StartTime: start,
		Active: true,
	}
	m.sessions[s.ID] = &s
	return s, nil
}

func (m *InMemory) Session(id int64) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (m *InMemory) EndSession(id int64, points []trackcodec.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.Active = false
	m.archived[id] = append([]trackcodec.Point(nil), points...)
	return nil
}

func (m *InMemory) AddVisitedCountry(tripID int64, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	trip, ok := m.trips[tripID]
	if !ok {
		return ErrTripNotFound
	}
	for _, c := range trip.Countries {
		if c == code {
			return nil
		}
	}
	trip.Countries = append(trip.Countries, code)
	return nil
}

// ArchivedPoints exposes what EndSession stored, for tests asserting
// promotion happened.
func (m *InMemory) ArchivedPoints(id int64) []trackcodec.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]trackcodec.Point(nil), m.archived[id]...)
}
