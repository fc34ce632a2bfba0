package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/GriffinCanCode/devportal/backend/internal/shared/utils"
)

const (
	// DefaultNamespace applies when metadata.namespace is omitted
	DefaultNamespace = "default"

	AnnotationLocation       = "backstage.io/managed-by-location"
	AnnotationOriginLocation = "backstage.io/managed-by-origin-location"
	AnnotationSourceLocation = "backstage.io/source-location"
)

// Relation types emitted by the built-in processor
const (
	RelationOwnedBy       = "ownedBy"
	RelationOwnerOf       = "ownerOf"
	RelationPartOf        = "partOf"
	RelationHasPart       = "hasPart"
	RelationMemberOf      = "memberOf"
	RelationHasMember     = "hasMember"
	RelationChildOf       = "childOf"
	RelationParentOf      = "parentOf"
	RelationProvidesAPI   = "providesApi"
	RelationAPIProvidedBy = "apiProvidedBy"
	RelationConsumesAPI   = "consumesApi"
	RelationAPIConsumedBy = "apiConsumedBy"
	RelationDependsOn     = "dependsOn"
	RelationDependencyOf  = "dependencyOf"
)

var (
	ErrNotFound      = errors.New("entity not found")
	ErrInvalidRef    = errors.New("invalid entity reference")
	ErrInvalidEntity = errors.New("invalid entity")
	ErrUnknownKind   = errors.New("no processor accepts entity kind")
)

// Metadata is the common metadata block of every entity
type Metadata struct {
	Name        string            `json:"name" yaml:"name"`
	Namespace   string            `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	UID         string            `json:"uid,omitempty" yaml:"uid,omitempty"`
	Etag        string            `json:"etag,omitempty" yaml:"etag,omitempty"`
	Title       string            `json:"title,omitempty" yaml:"title,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty" yaml:"annotations,omitempty"`
	Tags        []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Relation is a directed edge from the owning entity to Target
type Relation struct {
	Type      string `json:"type" yaml:"type"`
	TargetRef string `json:"targetRef" yaml:"targetRef"`
}

// Entity is a catalog entity in its stored form
type Entity struct {
	APIVersion string                 `json:"apiVersion" yaml:"apiVersion"`
	Kind       string                 `json:"kind" yaml:"kind"`
	Metadata   Metadata               `json:"metadata" yaml:"metadata"`
	Spec       map[string]interface{} `json:"spec,omitempty" yaml:"spec,omitempty"`
	Relations  []Relation             `json:"relations,omitempty" yaml:"relations,omitempty"`
}

// Ref returns the entity's reference
func (e *Entity) Ref() EntityRef {
	ns := e.Metadata.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	return EntityRef{Kind: strings.ToLower(e.Kind), Namespace: strings.ToLower(ns), Name: strings.ToLower(e.Metadata.Name)}
}

// SpecString reads a string field of spec
func (e *Entity) SpecString(key string) string {
	if e.Spec == nil {
		return ""
	}
	s, _ := e.Spec[key].(string)
	return s
}

// SpecStrings reads a string or string list field of spec
func (e *Entity) SpecStrings(key string) []string {
	if e.Spec == nil {
		return nil
	}
	switch v := e.Spec[key].(type) {
	case string:
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	}
	return nil
}

// Annotation returns a metadata annotation
func (e *Entity) Annotation(key string) string {
	return e.Metadata.Annotations[key]
}

// SetAnnotation sets a metadata annotation
func (e *Entity) SetAnnotation(key, value string) {
	if e.Metadata.Annotations == nil {
		e.Metadata.Annotations = make(map[string]string)
	}
	e.Metadata.Annotations[key] = value
}

// Validate checks the envelope shared by every kind
func (e *Entity) Validate() error {
	if e.APIVersion == "" {
		return fmt.Errorf("%w: apiVersion is required", ErrInvalidEntity)
	}
	if err := utils.ValidateKind(e.Kind); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntity, err)
	}
	if err := utils.ValidateEntityName(e.Metadata.Name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntity, err)
	}
	if e.Metadata.Namespace != "" {
		if err := utils.ValidateNamespace(e.Metadata.Namespace); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEntity, err)
		}
	}
	for key := range e.Metadata.Labels {
		if err := utils.ValidateKey(key, "metadata.labels"); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEntity, err)
		}
	}
	for key := range e.Metadata.Annotations {
		if err := utils.ValidateKey(key, "metadata.annotations"); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEntity, err)
		}
	}
	if err := utils.ValidateTags(e.Metadata.Tags); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntity, err)
	}
	return nil
}

// EntityRef identifies an entity as kind:namespace/name
type EntityRef struct {
	Kind      string `json:"kind"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s:%s/%s", r.Kind, r.Namespace, r.Name)
}

// ParseEntityRef parses "[kind:][namespace/]name". Missing parts come
// from defaultKind and DefaultNamespace; a missing kind with no default is
// an error.
func ParseEntityRef(ref, defaultKind, defaultNamespace string) (EntityRef, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return EntityRef{}, fmt.Errorf("%w: empty reference", ErrInvalidRef)
	}
	if defaultNamespace == "" {
		defaultNamespace = DefaultNamespace
	}

	kind := defaultKind
	rest := ref
	if i := strings.Index(ref, ":"); i >= 0 {
		kind, rest = ref[:i], ref[i+1:]
	}
	namespace := defaultNamespace
	name := rest
	if i := strings.Index(rest, "/"); i >= 0 {
		namespace, name = rest[:i], rest[i+1:]
	}

	if kind == "" {
		return EntityRef{}, fmt.Errorf("%w: %q has no kind", ErrInvalidRef, ref)
	}
	if namespace == "" || name == "" || strings.ContainsAny(name, ":/") {
		return EntityRef{}, fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return EntityRef{
		Kind:      strings.ToLower(kind),
		Namespace: strings.ToLower(namespace),
		Name:      strings.ToLower(name),
	}, nil
}
