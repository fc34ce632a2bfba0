package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/devportal/backend/internal/services/urlreader"
	"github.com/GriffinCanCode/devportal/backend/internal/shared/id"
	"github.com/GriffinCanCode/devportal/backend/internal/shared/utils"
)

const maxLocationDepth = 5

// Reader fetches location targets
type Reader interface {
	Read(ctx context.Context, target string) ([]byte, error)
}

// Catalog validates, relates and stores entities
type Catalog struct {
	store      Store
	reader     Reader
	processors []Processor
	logger     *logging.Logger
	metrics    *monitoring.Metrics

	// processing is serialized so full mutations see a stable source set
	mu sync.Mutex
}

// New creates a catalog; the built-in kinds processor always runs first
func New(store Store, reader Reader, processors []Processor, logger *logging.Logger, metrics *monitoring.Metrics) *Catalog {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Catalog{
		store:      store,
		reader:     reader,
		processors: append([]Processor{builtinProcessor{}}, processors...),
		logger:     logger,
		metrics:    metrics,
	}
}

// ParseEntities decodes a YAML stream of one or more entity documents
func ParseEntities(data []byte) ([]*Entity, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var out []*Entity
	for {
		var e Entity
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse entity document %d: %w", len(out)+1, err)
		}
		if e.Kind == "" && e.APIVersion == "" {
			continue
		}
		out = append(out, &e)
	}
	return out, nil
}

// processLocked validates and stores one entity. c.mu must be held.
func (c *Catalog) processLocked(ctx context.Context, e *Entity, source string) error {
	if err := e.Validate(); err != nil {
		return err
	}

	accepted := false
	for _, p := range c.processors {
		ok, err := p.ValidateEntityKind(e)
		if err != nil {
			return fmt.Errorf("%s rejected %s: %w", p.ProcessorName(), e.Ref(), err)
		}
		accepted = accepted || ok
	}
	if !accepted {
		return fmt.Errorf("%w: %s/%s", ErrUnknownKind, e.APIVersion, e.Kind)
	}

	if e.Metadata.Namespace == "" {
		e.Metadata.Namespace = DefaultNamespace
	}

	existing, err := c.store.Get(ctx, e.Ref())
	switch {
	case err == nil:
		e.Metadata.UID = existing.Metadata.UID
	case errors.Is(err, ErrNotFound):
		e.Metadata.UID = uuid.NewString()
	default:
		return err
	}

	seen := make(map[Relation]bool)
	var relations []Relation
	emit := func(r Relation) {
		if !seen[r] {
			seen[r] = true
			relations = append(relations, r)
		}
	}
	for _, p := range c.processors {
		if err := p.PostProcessEntity(ctx, e, emit); err != nil {
			return fmt.Errorf("%s failed on %s: %w", p.ProcessorName(), e.Ref(), err)
		}
	}
	sort.Slice(relations, func(i, j int) bool {
		if relations[i].Type != relations[j].Type {
			return relations[i].Type < relations[j].Type
		}
		return relations[i].TargetRef < relations[j].TargetRef
	})
	e.Relations = relations

	e.Metadata.Etag = ""
	etag, err := utils.HashJSON(e)
	if err != nil {
		return err
	}
	e.Metadata.Etag = utils.ShortHash(etag)

	return c.store.Upsert(ctx, e, source)
}

// replaceSource stores entities and removes everything source emitted
// before that is no longer present. c.mu must be held.
func (c *Catalog) replaceSource(ctx context.Context, source string, entities []*Entity) error {
	var errs []error
	keep := make(map[string]bool, len(entities))
	for _, e := range entities {
		// A failing entity keeps its last good version
		keep[e.Ref().String()] = true
		if err := c.processLocked(ctx, e, source); err != nil {
			errs = append(errs, err)
		}
	}

	previous, err := c.store.RefsBySource(ctx, source)
	if err != nil {
		return err
	}
	for _, ref := range previous {
		if keep[ref.String()] {
			continue
		}
		if err := c.deleteRefLocked(ctx, ref); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	c.recordCounts(ctx)
	return errors.Join(errs...)
}

func (c *Catalog) deleteRefLocked(ctx context.Context, ref EntityRef) error {
	e, err := c.store.Get(ctx, ref)
	if err != nil {
		return err
	}
	return c.store.DeleteByUID(ctx, e.Metadata.UID)
}

func (c *Catalog) recordCounts(ctx context.Context) {
	if c.metrics == nil {
		return
	}
	entities, err := c.store.List(ctx)
	if err != nil {
		return
	}
	counts := make(map[string]int)
	for _, e := range entities {
		counts[e.Ref().Kind]++
	}
	c.metrics.CatalogEntities.Reset()
	for kind, n := range counts {
		c.metrics.CatalogEntities.WithLabelValues(kind).Set(float64(n))
	}
}

// providerConnection applies mutations on behalf of one provider
type providerConnection struct {
	catalog *Catalog
	source  string
}

func (p *providerConnection) ApplyMutation(ctx context.Context, m Mutation) error {
	return p.catalog.ApplyMutation(ctx, p.source, m)
}

// Connect hands a connection to each provider
func (c *Catalog) Connect(ctx context.Context, providers []EntityProvider) error {
	for _, p := range providers {
		conn := &providerConnection{catalog: c, source: "provider:" + p.ProviderName()}
		if err := p.Connect(ctx, conn); err != nil {
			return fmt.Errorf("failed to connect entity provider %s: %w", p.ProviderName(), err)
		}
		c.logger.Info("Connected entity provider", zap.String("provider", p.ProviderName()))
	}
	return nil
}

// ApplyMutation applies a provider mutation under source
func (c *Catalog) ApplyMutation(ctx context.Context, source string, m Mutation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m.Type {
	case MutationFull:
		return c.replaceSource(ctx, source, m.Entities)
	case MutationDelta:
		var errs []error
		for _, e := range m.Entities {
			if err := c.processLocked(ctx, e, source); err != nil {
				errs = append(errs, err)
			}
		}
		for _, ref := range m.Removed {
			if err := c.deleteRefLocked(ctx, ref); err != nil && !errors.Is(err, ErrNotFound) {
				errs = append(errs, err)
			}
		}
		c.recordCounts(ctx)
		return errors.Join(errs...)
	default:
		return fmt.Errorf("unknown mutation type %q", m.Type)
	}
}

// AddLocation registers a location and ingests it. With dryRun the
// entities are read and returned without being stored.
func (c *Catalog) AddLocation(ctx context.Context, typ, target string, dryRun bool) (Location, []*Entity, error) {
	if typ != "url" && typ != "file" {
		return Location{}, nil, fmt.Errorf("%w: unsupported location type %q", ErrInvalidEntity, typ)
	}
	if target == "" {
		return Location{}, nil, fmt.Errorf("%w: location target is required", ErrInvalidEntity)
	}
	loc := Location{ID: id.NewLocationID().String(), Type: typ, Target: target}

	entities, err := c.readLocation(ctx, loc)
	if err != nil {
		return Location{}, nil, err
	}
	if dryRun {
		return loc, entities, nil
	}

	if err := c.store.AddLocation(ctx, loc); err != nil {
		return Location{}, nil, err
	}

	c.mu.Lock()
	err = c.replaceSource(ctx, locationSource(loc), entities)
	c.mu.Unlock()
	if err != nil {
		return loc, entities, err
	}
	return loc, entities, nil
}

// EnsureLocation registers a location without reading it; the next refresh
// ingests it. Existing registrations are left alone.
func (c *Catalog) EnsureLocation(ctx context.Context, typ, target string) error {
	err := c.store.AddLocation(ctx, Location{ID: id.NewLocationID().String(), Type: typ, Target: target})
	if errors.Is(err, ErrLocationExists) {
		return nil
	}
	return err
}

// Locations lists registered locations
func (c *Catalog) Locations(ctx context.Context) ([]Location, error) {
	return c.store.Locations(ctx)
}

// DeleteLocation removes a location and every entity it produced
func (c *Catalog) DeleteLocation(ctx context.Context, locationID string) error {
	locs, err := c.store.Locations(ctx)
	if err != nil {
		return err
	}
	for _, loc := range locs {
		if loc.ID != locationID {
			continue
		}
		if err := c.store.DeleteLocation(ctx, loc.ID); err != nil {
			return err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.replaceSource(ctx, locationSource(loc), nil)
	}
	return ErrLocationNotFound
}

// Refresh re-reads every registered location
func (c *Catalog) Refresh(ctx context.Context) error {
	locs, err := c.store.Locations(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, loc := range locs {
		entities, err := c.readLocation(ctx, loc)
		if err != nil {
			c.logger.Warn("Failed to read location", zap.String("target", loc.Target), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		c.mu.Lock()
		err = c.replaceSource(ctx, locationSource(loc), entities)
		c.mu.Unlock()
		if err != nil {
			c.logger.Warn("Failed to process location", zap.String("target", loc.Target), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RefreshEntity re-reads the location that produced the referenced entity
func (c *Catalog) RefreshEntity(ctx context.Context, ref EntityRef) error {
	e, err := c.store.Get(ctx, ref)
	if err != nil {
		return err
	}
	origin := e.Annotation(AnnotationOriginLocation)
	locs, err := c.store.Locations(ctx)
	if err != nil {
		return err
	}
	for _, loc := range locs {
		if locationKey(loc.Type, loc.Target) != origin {
			continue
		}
		entities, err := c.readLocation(ctx, loc)
		if err != nil {
			return err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.replaceSource(ctx, locationSource(loc), entities)
	}
	// Provider entities refresh on their provider's own schedule
	return nil
}

// readLocation reads target and follows Location entities
func (c *Catalog) readLocation(ctx context.Context, loc Location) ([]*Entity, error) {
	origin := locationKey(loc.Type, loc.Target)
	visited := make(map[string]bool)
	var out []*Entity

	var walk func(typ, target string, depth int) error
	walk = func(typ, target string, depth int) error {
		if depth > maxLocationDepth {
			return fmt.Errorf("location nesting deeper than %d at %s", maxLocationDepth, target)
		}
		key := locationKey(typ, target)
		if visited[key] {
			return nil
		}
		visited[key] = true

		data, err := c.reader.Read(ctx, target)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", key, err)
		}
		entities, err := ParseEntities(data)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", key, err)
		}
		for _, e := range entities {
			e.SetAnnotation(AnnotationLocation, key)
			e.SetAnnotation(AnnotationOriginLocation, origin)
			out = append(out, e)

			if !strings.EqualFold(e.Kind, "location") {
				continue
			}
			childType := e.SpecString("type")
			if childType == "" {
				childType = typ
			}
			targets := e.SpecStrings("targets")
			if t := e.SpecString("target"); t != "" {
				targets = append(targets, t)
			}
			for _, t := range targets {
				if err := walk(childType, urlreader.Resolve(target, t), depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(loc.Type, loc.Target, 0); err != nil {
		return nil, err
	}
	return out, nil
}

func locationSource(loc Location) string {
	return "location:" + loc.ID
}

func locationKey(typ, target string) string {
	return typ + ":" + target
}

// Entities returns entities matching any of filters, with relations from
// both directions
func (c *Catalog) Entities(ctx context.Context, filters []Filter) ([]*Entity, error) {
	all, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}
	withInverseRelations(all)

	if len(filters) == 0 {
		return all, nil
	}
	out := make([]*Entity, 0, len(all))
	for _, e := range all {
		for _, f := range filters {
			if f.Matches(e) {
				out = append(out, e)
				break
			}
		}
	}
	return out, nil
}

// EntityByRef looks up one entity
func (c *Catalog) EntityByRef(ctx context.Context, ref EntityRef) (*Entity, error) {
	all, err := c.Entities(ctx, nil)
	if err != nil {
		return nil, err
	}
	for _, e := range all {
		if e.Ref() == ref {
			return e, nil
		}
	}
	return nil, ErrNotFound
}

// EntityByUID looks up one entity by uid
func (c *Catalog) EntityByUID(ctx context.Context, uid string) (*Entity, error) {
	e, err := c.store.GetByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	return c.EntityByRef(ctx, e.Ref())
}

// DeleteEntity removes an entity by uid. It reappears on the next refresh
// if its location still lists it.
func (c *Catalog) DeleteEntity(ctx context.Context, uid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.DeleteByUID(ctx, uid); err != nil {
		return err
	}
	c.recordCounts(ctx)
	return nil
}

// withInverseRelations adds the target side of every stored relation
func withInverseRelations(entities []*Entity) {
	index := make(map[string]*Entity, len(entities))
	for _, e := range entities {
		index[e.Ref().String()] = e
	}
	extra := make(map[string][]Relation)
	for _, e := range entities {
		source := e.Ref().String()
		for _, r := range e.Relations {
			inv, ok := InverseRelation(r.Type)
			if !ok {
				continue
			}
			if _, exists := index[r.TargetRef]; exists {
				extra[r.TargetRef] = append(extra[r.TargetRef], Relation{Type: inv, TargetRef: source})
			}
		}
	}
	for ref, rels := range extra {
		e := index[ref]
		seen := make(map[Relation]bool, len(e.Relations))
		for _, r := range e.Relations {
			seen[r] = true
		}
		for _, r := range rels {
			if !seen[r] {
				seen[r] = true
				e.Relations = append(e.Relations, r)
			}
		}
		sort.Slice(e.Relations, func(i, j int) bool {
			if e.Relations[i].Type != e.Relations[j].Type {
				return e.Relations[i].Type < e.Relations[j].Type
			}
			return e.Relations[i].TargetRef < e.Relations[j].TargetRef
		})
	}
}
