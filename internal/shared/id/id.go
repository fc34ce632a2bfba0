// Package id generates the prefixed, time-sortable identifiers handed out by
// the backend: request ids, trace spans, scaffolder tasks, events and
// catalog locations.
//
// An id is "<prefix>_<ULID>". ULIDs from one process are monotonic, so ids of
// the same kind sort by creation time.
package id

import (
	"crypto/rand"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// RequestID identifies an API request
type RequestID string

// SpanID identifies a tracing span
type SpanID string

// TaskID identifies a scaffolder task
type TaskID string

// EventID identifies a published event
type EventID string

// LocationID identifies a registered catalog location
type LocationID string

const (
	RequestPrefix  = "req"
	SpanPrefix     = "span"
	TaskPrefix     = "task"
	EventPrefix    = "evt"
	LocationPrefix = "loc"
)

// ErrPrefix is returned for an id of another kind
var ErrPrefix = errors.New("id has an unexpected prefix")

var (
	mu      sync.Mutex
	entropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

func next(prefix string) string {
	mu.Lock()
	u := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	mu.Unlock()
	return prefix + "_" + u.String()
}

func NewRequestID() RequestID   { return RequestID(next(RequestPrefix)) }
func NewSpanID() SpanID         { return SpanID(next(SpanPrefix)) }
func NewTaskID() TaskID         { return TaskID(next(TaskPrefix)) }
func NewEventID() EventID       { return EventID(next(EventPrefix)) }
func NewLocationID() LocationID { return LocationID(next(LocationPrefix)) }

func (id RequestID) String() string  { return string(id) }
func (id SpanID) String() string     { return string(id) }
func (id TaskID) String() string     { return string(id) }
func (id EventID) String() string    { return string(id) }
func (id LocationID) String() string { return string(id) }

// Created returns when a prefixed id was generated. It fails when the id
// does not carry the expected prefix.
func Created(id, prefix string) (time.Time, error) {
	rest, ok := strings.CutPrefix(id, prefix+"_")
	if !ok {
		return time.Time{}, ErrPrefix
	}
	parsed, err := ulid.ParseStrict(rest)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
