package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// String length limits
const (
	MaxEntityNameLength  = 63
	MaxLabelPrefixLength = 253
	MaxIDLength          = 128
	MaxTagCount          = 32
)

var (
	// TopicPattern allows event topics such as "github.push"
	TopicPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

	entityNamePattern = regexp.MustCompile(`^[a-zA-Z0-9]+([-_.][a-zA-Z0-9]+)*$`)
	namespacePattern  = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	kindPattern       = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9]*$`)
	tagPattern        = regexp.MustCompile(`^[a-z0-9:+#]+(-[a-z0-9:+#]+)*$`)
	dnsSubdomain      = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?(\.[a-z0-9]([-a-z0-9]*[a-z0-9])?)*$`)
)

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateTopic validates an event topic name
func ValidateTopic(topic string) error {
	if err := ValidateString(topic, "topic", 1, MaxIDLength, true); err != nil {
		return err
	}
	if !TopicPattern.MatchString(topic) {
		return fmt.Errorf("topic %q contains invalid characters", topic)
	}
	return nil
}

// ValidateEntityName validates metadata.name of a catalog entity
func ValidateEntityName(name string) error {
	if err := ValidateString(name, "metadata.name", 1, MaxEntityNameLength, true); err != nil {
		return err
	}
	if !entityNamePattern.MatchString(name) {
		return fmt.Errorf("metadata.name %q must be sequences of [a-zA-Z0-9] separated by any of [-_.]", name)
	}
	return nil
}

// ValidateNamespace validates metadata.namespace of a catalog entity
func ValidateNamespace(namespace string) error {
	if err := ValidateString(namespace, "metadata.namespace", 1, MaxEntityNameLength, true); err != nil {
		return err
	}
	if !namespacePattern.MatchString(namespace) {
		return fmt.Errorf("metadata.namespace %q must be sequences of [a-z0-9] separated by [-]", namespace)
	}
	return nil
}

// ValidateKind validates the kind of a catalog entity
func ValidateKind(kind string) error {
	if err := ValidateString(kind, "kind", 1, MaxEntityNameLength, true); err != nil {
		return err
	}
	if !kindPattern.MatchString(kind) {
		return fmt.Errorf("kind %q must start with a letter and contain only [a-zA-Z0-9]", kind)
	}
	return nil
}

// ValidateKey validates a label or annotation key of the form [prefix/]name
func ValidateKey(key, fieldName string) error {
	if err := ValidateString(key, fieldName, 1, MaxLabelPrefixLength+1+MaxEntityNameLength, true); err != nil {
		return err
	}

	name := key
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		prefix := key[:i]
		name = key[i+1:]
		if len(prefix) == 0 || len(prefix) > MaxLabelPrefixLength || !dnsSubdomain.MatchString(prefix) {
			return fmt.Errorf("%s %q has an invalid prefix", fieldName, key)
		}
	}
	if len(name) == 0 || len(name) > MaxEntityNameLength || !entityNamePattern.MatchString(name) {
		return fmt.Errorf("%s %q has an invalid name part", fieldName, key)
	}
	return nil
}

// ValidateTags validates entity tags
func ValidateTags(tags []string) error {
	if len(tags) > MaxTagCount {
		return fmt.Errorf("too many tags (maximum %d)", MaxTagCount)
	}

	for i, tag := range tags {
		if err := ValidateString(tag, fmt.Sprintf("tag[%d]", i), 1, MaxEntityNameLength, true); err != nil {
			return err
		}
		if !tagPattern.MatchString(tag) {
			return fmt.Errorf("tag[%d] %q must be sequences of [a-z0-9:+#] separated by [-]", i, tag)
		}
	}

	return nil
}
