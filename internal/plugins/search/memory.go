package search

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"
)

const titleWeight = 3

type indexedDoc struct {
	doc   Document
	title map[string]int
	text  map[string]int
}

// MemoryEngine is a term frequency engine kept in process memory
type MemoryEngine struct {
	mu    sync.RWMutex
	types map[string][]indexedDoc
}

// NewMemoryEngine creates an empty engine
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{types: make(map[string][]indexedDoc)}
}

func (e *MemoryEngine) Name() string { return "memory" }

func (e *MemoryEngine) Index(_ context.Context, docType string, docs []Document) error {
	indexed := make([]indexedDoc, 0, len(docs))
	for _, d := range docs {
		indexed = append(indexed, indexedDoc{
			doc:   d,
			title: termCounts(d.Title),
			text:  termCounts(d.Text),
		})
	}
	e.mu.Lock()
	e.types[docType] = indexed
	e.mu.Unlock()
	return nil
}

func (e *MemoryEngine) Query(_ context.Context, q Query) (*ResultSet, error) {
	page, err := DecodeCursor(q.PageCursor)
	if err != nil {
		return nil, err
	}
	limit := PageLimit(q.PageLimit)
	terms := Tokenize(q.Term)

	wanted := make(map[string]bool, len(q.Types))
	for _, t := range q.Types {
		wanted[t] = true
	}

	type hit struct {
		typ   string
		doc   Document
		score int
	}
	var hits []hit

	e.mu.RLock()
	for typ, docs := range e.types {
		if len(wanted) > 0 && !wanted[typ] {
			continue
		}
		for _, d := range docs {
			if !matchesFilters(d.doc, q.Filters) {
				continue
			}
			score, ok := d.score(terms)
			if !ok {
				continue
			}
			hits = append(hits, hit{typ: typ, doc: d.doc, score: score})
		}
	}
	e.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		if hits[i].doc.Title != hits[j].doc.Title {
			return hits[i].doc.Title < hits[j].doc.Title
		}
		return hits[i].doc.Location < hits[j].doc.Location
	})

	set := &ResultSet{Results: []Result{}}
	start := min(page*limit, len(hits))
	for i := start; i < len(hits) && i < start+limit; i++ {
		set.Results = append(set.Results, Result{Type: hits[i].typ, Document: hits[i].doc, Rank: i + 1})
	}
	Paginate(set, page, limit, len(hits))
	return set, nil
}

// Count returns the number of documents of docType
func (e *MemoryEngine) Count(docType string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.types[docType])
}

// score requires every term; an empty query matches everything
func (d indexedDoc) score(terms []string) (int, bool) {
	if len(terms) == 0 {
		return 0, true
	}
	total := 0
	for _, t := range terms {
		n := d.title[t]*titleWeight + d.text[t]
		if n == 0 {
			n = d.prefixScore(t)
		}
		if n == 0 {
			return 0, false
		}
		total += n
	}
	return total, true
}

// prefixScore lets a trailing partial word match
func (d indexedDoc) prefixScore(prefix string) int {
	n := 0
	for w, c := range d.title {
		if strings.HasPrefix(w, prefix) {
			n += c
		}
	}
	for w, c := range d.text {
		if strings.HasPrefix(w, prefix) {
			n += c
		}
	}
	return n
}

func matchesFilters(d Document, filters map[string]string) bool {
	for k, v := range filters {
		if !strings.EqualFold(d.Fields[k], v) {
			return false
		}
	}
	return true
}

// Tokenize lowercases s and splits it on anything but letters and digits
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func termCounts(s string) map[string]int {
	counts := make(map[string]int)
	for _, t := range Tokenize(s) {
		counts[t]++
	}
	return counts
}
