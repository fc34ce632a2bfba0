// Package search is the search plugin. Collators registered by modules feed
// documents into a search engine on a schedule; the engine answers queries.
package search

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/services/scheduler"
)

const (
	DefaultPageLimit = 25
	MaxPageLimit     = 100
)

var ErrInvalidCursor = errors.New("invalid page cursor")

// Document is an indexable document
type Document struct {
	Title    string            `json:"title"`
	Text     string            `json:"text"`
	Location string            `json:"location"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Query is a search request
type Query struct {
	Term string
	// Types restricts results to these document types; empty means all
	Types []string
	// Filters must all equal the document's fields
	Filters    map[string]string
	PageLimit  int
	PageCursor string
}

// Result is one ranked hit
type Result struct {
	Type     string   `json:"type"`
	Document Document `json:"document"`
	Rank     int      `json:"rank"`
}

// ResultSet is one page of results
type ResultSet struct {
	Results            []Result `json:"results"`
	NextPageCursor     string   `json:"nextPageCursor,omitempty"`
	PreviousPageCursor string   `json:"previousPageCursor,omitempty"`
	NumberOfResults    int      `json:"numberOfResults"`
}

// Engine stores documents and answers queries
type Engine interface {
	Name() string
	// Index replaces every document of docType
	Index(ctx context.Context, docType string, docs []Document) error
	Query(ctx context.Context, q Query) (*ResultSet, error)
}

// Collator produces the full document set of one type
type Collator interface {
	Type() string
	Collate(ctx context.Context) ([]Document, error)
}

// EngineExtensionPoint lets a module replace the default engine
var EngineExtensionPoint = backend.NewExtensionPoint[EngineRegistry]("search.engine")

// IndexRegistryExtensionPoint lets modules register collators
var IndexRegistryExtensionPoint = backend.NewExtensionPoint[IndexRegistry]("search.indexRegistry")

type EngineRegistry interface {
	SetEngine(e Engine)
}

type IndexRegistry interface {
	AddCollator(c Collator, schedule scheduler.Schedule)
}

type registration struct {
	collator Collator
	schedule scheduler.Schedule
}

// extensions backs both extension points
type extensions struct {
	mu        sync.Mutex
	engine    Engine
	collators []registration
	sealed    bool
}

func (x *extensions) SetEngine(e Engine) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.sealed {
		panic("search: engine set after initialization")
	}
	if x.engine != nil {
		panic("search: engine already set to " + x.engine.Name())
	}
	x.engine = e
}

func (x *extensions) AddCollator(c Collator, schedule scheduler.Schedule) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.sealed {
		panic("search: collator added after initialization")
	}
	x.collators = append(x.collators, registration{collator: c, schedule: schedule})
}

func (x *extensions) seal() (Engine, []registration) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.sealed = true
	return x.engine, x.collators
}

// EncodeCursor encodes a zero based page number
func EncodeCursor(page int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(page)))
}

// maxPage keeps page*MaxPageLimit within int
const maxPage = math.MaxInt / MaxPageLimit

// DecodeCursor returns the page number of cursor; empty means the first page
func DecodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	page, err := strconv.Atoi(string(raw))
	if err != nil || page < 0 || page > maxPage {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
	}
	return page, nil
}

// PageLimit clamps a requested page size
func PageLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageLimit
	case limit > MaxPageLimit:
		return MaxPageLimit
	}
	return limit
}

// Paginate fills the cursors of a page given the total hit count
func Paginate(set *ResultSet, page, limit, total int) {
	set.NumberOfResults = total
	if page*limit < total-limit {
		set.NextPageCursor = EncodeCursor(page + 1)
	}
	if page > 0 {
		set.PreviousPageCursor = EncodeCursor(page - 1)
	}
}
