package catalog

import (
	"context"
	"strings"
	"sync"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
)

// ProcessingExtensionPoint lets modules contribute providers and processors
var ProcessingExtensionPoint = backend.NewExtensionPoint[Processing]("catalog.processing")

// Processing is implemented by the catalog plugin
type Processing interface {
	AddEntityProvider(providers ...EntityProvider)
	AddProcessor(processors ...Processor)
}

// MutationType selects how a provider mutation is applied
type MutationType string

const (
	// MutationFull replaces every entity the provider previously emitted
	MutationFull MutationType = "full"
	// MutationDelta adds and removes individual entities
	MutationDelta MutationType = "delta"
)

// Mutation is a batch of changes emitted by an entity provider
type Mutation struct {
	Type     MutationType
	Entities []*Entity
	Removed  []EntityRef
}

// Connection is handed to providers when the catalog starts
type Connection interface {
	ApplyMutation(ctx context.Context, m Mutation) error
}

// EntityProvider feeds entities from an external source
type EntityProvider interface {
	ProviderName() string
	Connect(ctx context.Context, conn Connection) error
}

// Emit receives relations found while processing an entity
type Emit func(r Relation)

// Processor validates and enriches entities of the kinds it knows
type Processor interface {
	ProcessorName() string
	// ValidateEntityKind reports whether the processor accepts the entity
	ValidateEntityKind(e *Entity) (bool, error)
	PostProcessEntity(ctx context.Context, e *Entity, emit Emit) error
}

type processing struct {
	mu         sync.Mutex
	providers  []EntityProvider
	processors []Processor
	locked     bool
}

func (p *processing) AddEntityProvider(providers ...EntityProvider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.locked {
		panic("catalog: entity providers must be added during module init")
	}
	p.providers = append(p.providers, providers...)
}

func (p *processing) AddProcessor(processors ...Processor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.locked {
		panic("catalog: processors must be added during module init")
	}
	p.processors = append(p.processors, processors...)
}

// seal returns the collected extensions and rejects further additions
func (p *processing) seal() ([]EntityProvider, []Processor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locked = true
	return p.providers, p.processors
}

// builtinProcessor handles the core entity kinds
type builtinProcessor struct{}

var builtinKinds = map[string]bool{
	"component": true,
	"api":       true,
	"system":    true,
	"domain":    true,
	"resource":  true,
	"group":     true,
	"user":      true,
	"location":  true,
}

func (builtinProcessor) ProcessorName() string { return "BuiltinKindsEntityProcessor" }

func (builtinProcessor) ValidateEntityKind(e *Entity) (bool, error) {
	return strings.HasPrefix(e.APIVersion, "backstage.io/") && builtinKinds[strings.ToLower(e.Kind)], nil
}

func (builtinProcessor) PostProcessEntity(_ context.Context, e *Entity, emit Emit) error {
	ns := e.Ref().Namespace
	relate := func(targets []string, defaultKind, relation string) {
		for _, t := range targets {
			ref, err := ParseEntityRef(t, defaultKind, ns)
			if err != nil {
				continue
			}
			emit(Relation{Type: relation, TargetRef: ref.String()})
		}
	}

	kind := strings.ToLower(e.Kind)
	switch kind {
	case "component", "api", "resource", "system", "domain":
		relate(e.SpecStrings("owner"), "group", RelationOwnedBy)
	}

	switch kind {
	case "component":
		relate(e.SpecStrings("system"), "system", RelationPartOf)
		relate(e.SpecStrings("subcomponentOf"), "component", RelationPartOf)
		relate(e.SpecStrings("providesApis"), "api", RelationProvidesAPI)
		relate(e.SpecStrings("consumesApis"), "api", RelationConsumesAPI)
		relate(e.SpecStrings("dependsOn"), "component", RelationDependsOn)
	case "api", "resource":
		relate(e.SpecStrings("system"), "system", RelationPartOf)
		relate(e.SpecStrings("dependsOn"), "resource", RelationDependsOn)
	case "system":
		relate(e.SpecStrings("domain"), "domain", RelationPartOf)
	case "group":
		relate(e.SpecStrings("parent"), "group", RelationChildOf)
		relate(e.SpecStrings("children"), "group", RelationParentOf)
		relate(e.SpecStrings("members"), "user", RelationHasMember)
	case "user":
		relate(e.SpecStrings("memberOf"), "group", RelationMemberOf)
	}
	return nil
}

// inverseRelations pairs each relation with the one its target carries
var inverseRelations = map[string]string{
	RelationOwnedBy:       RelationOwnerOf,
	RelationOwnerOf:       RelationOwnedBy,
	RelationPartOf:        RelationHasPart,
	RelationHasPart:       RelationPartOf,
	RelationMemberOf:      RelationHasMember,
	RelationHasMember:     RelationMemberOf,
	RelationChildOf:       RelationParentOf,
	RelationParentOf:      RelationChildOf,
	RelationProvidesAPI:   RelationAPIProvidedBy,
	RelationAPIProvidedBy: RelationProvidesAPI,
	RelationConsumesAPI:   RelationAPIConsumedBy,
	RelationAPIConsumedBy: RelationConsumesAPI,
	RelationDependsOn:     RelationDependencyOf,
	RelationDependencyOf:  RelationDependsOn,
}

// InverseRelation returns the relation type seen from the target side
func InverseRelation(relation string) (string, bool) {
	inv, ok := inverseRelations[relation]
	return inv, ok
}
