package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"

	"github.com/google/uuid"

	"example.com/backstage/budget/domain"
)

var (
	ErrTypeNotValid      = errors.New("registry: type not valid")
	ErrUnknownEventType  = errors.New("registry: unknown event type")
	ErrUnknownStream     = errors.New("registry: unknown stream")
	ErrDuplicateType     = errors.New("registry: type registered twice")
	ErrEventNotDecodable = errors.New("registry: event payload not decodable")

	nameRegex = regexp.MustCompile(`^[\w-]+(\.[\w-]+)*$`)
)

func validateName(n string) error {
	if n == "" {
		return fmt.Errorf("%w: missing name", ErrTypeNotValid)
	}
	if !nameRegex.MatchString(n) {
		return fmt.Errorf("%w: name %q has invalid characters", ErrTypeNotValid, n)
	}
	return nil
}

// EventType describes a stored event.
type EventType struct {
	Name string
	Path string
	Init func() domain.Event
}

// StreamType describes the aggregate owning a stream.
type StreamType struct {
	Name string
	// New returns the empty state of the aggregate, ready to fold events.
	New func(id uuid.UUID) domain.Aggregate
}

type registryOption func(r *Registry) error

func (f registryOption) addOption(r *Registry) error {
	return f(r)
}

// Option models an option when creating a registry.
type Option interface {
	addOption(r *Registry) error
}

// Event registers a single event type under its stored name.
func Event(name string, init func() domain.Event) Option {
	return registryOption(func(r *Registry) error {
		return r.addEvent(name, init)
	})
}

// Events registers every event of a catalog.
func Events(catalog map[string]func() domain.Event) Option {
	return registryOption(func(r *Registry) error {
		for n, init := range catalog {
			if err := r.addEvent(n, init); err != nil {
				return err
			}
		}
		return nil
	})
}

// Stream registers the aggregate that owns a stream name.
func Stream(name string, factory func(id uuid.UUID) domain.Aggregate) Option {
	return registryOption(func(r *Registry) error {
		return r.addStream(name, factory)
	})
}

// Streams registers every aggregate of a catalog.
func Streams(catalog map[string]func(id uuid.UUID) domain.Aggregate) Option {
	return registryOption(func(r *Registry) error {
		for n, f := range catalog {
			if err := r.addStream(n, f); err != nil {
				return err
			}
		}
		return nil
	})
}

// Registry maps stored event names to Go event types and stream names to
// aggregates. It is read-only once built and safe for concurrent use.
type Registry struct {
	// Index of event types by stored name.
	events map[string]*EventType

	// Go type path to stored name.
	paths map[string]string

	streams map[string]*StreamType
}

// New builds a registry from the given options.
func New(opts ...Option) (*Registry, error) {
	r := &Registry{
		events:  make(map[string]*EventType),
		paths:   make(map[string]string),
		streams: make(map[string]*StreamType),
	}

	for _, o := range opts {
		if err := o.addOption(r); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Registry) addEvent(name string, init func() domain.Event) error {
	if err := validateName(name); err != nil {
		return err
	}

	if init == nil {
		return fmt.Errorf("%w: %s: init func is nil", ErrTypeNotValid, name)
	}

	v := init()
	if v == nil {
		return fmt.Errorf("%w: %s: init func returns nil", ErrTypeNotValid, name)
	}

	rt := reflect.TypeOf(v)

	// Decoding needs a pointer to a struct.
	if rt.Kind() != reflect.Ptr || rt.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w: %s: init func must return a pointer to a struct", ErrTypeNotValid, name)
	}
	if reflect.ValueOf(v).IsNil() {
		return fmt.Errorf("%w: %s: init func returns nil", ErrTypeNotValid, name)
	}

	// Ensure [de]serialization works in the base case.
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %s: failed to marshal: %s", ErrTypeNotValid, name, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %s: failed to unmarshal: %s", ErrTypeNotValid, name, err)
	}

	path := typePath(rt)
	if _, ok := r.events[name]; ok {
		return fmt.Errorf("%w: name %s", ErrDuplicateType, name)
	}
	if other, ok := r.paths[path]; ok {
		return fmt.Errorf("%w: %s already registered as %s", ErrDuplicateType, path, other)
	}

	r.events[name] = &EventType{Name: name, Path: path, Init: init}
	r.paths[path] = name
	return nil
}

func (r *Registry) addStream(name string, factory func(id uuid.UUID) domain.Aggregate) error {
	if err := validateName(name); err != nil {
		return err
	}
	if factory == nil {
		return fmt.Errorf("%w: %s: stream factory is nil", ErrTypeNotValid, name)
	}
	if _, ok := r.streams[name]; ok {
		return fmt.Errorf("%w: stream %s", ErrDuplicateType, name)
	}

	r.streams[name] = &StreamType{Name: name, New: factory}
	return nil
}

// typePath is the internal identifier of an event type, e.g.
// "example.com/backstage/budget/domain.EnvelopeCreated".
func typePath(rt reflect.Type) string {
	if rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	return rt.PkgPath() + "." + rt.Name()
}

// PathOf returns the type path of an event value.
func PathOf(event domain.Event) string {
	return typePath(reflect.TypeOf(event))
}

// ClassNameFor maps a type path to its stored name. Unknown paths map to themselves.
func (r *Registry) ClassNameFor(path string) string {
	if n, ok := r.paths[path]; ok {
		return n
	}
	return path
}

// EventPathFor maps a stored name back to its type path.
func (r *Registry) EventPathFor(name string) (string, error) {
	t, ok := r.events[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownEventType, name)
	}
	return t.Path, nil
}

// ClassNamesFor maps type paths to stored names, preserving order.
func (r *Registry) ClassNamesFor(paths []string) []string {
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = r.ClassNameFor(p)
	}
	return names
}

// NameOf returns the stored name of an event value.
func (r *Registry) NameOf(event domain.Event) string {
	return r.ClassNameFor(PathOf(event))
}

// AggregateTypeForStream returns the aggregate owning a stream name.
func (r *Registry) AggregateTypeForStream(streamName string) (*StreamType, error) {
	s, ok := r.streams[streamName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, streamName)
	}
	return s, nil
}

// Init initializes an empty event given its stored name.
func (r *Registry) Init(name string) (domain.Event, error) {
	t, ok := r.events[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, name)
	}
	return t.Init(), nil
}

// Decode initializes a new event for the stored name and unmarshals the payload into it.
func (r *Registry) Decode(name string, payload []byte) (domain.Event, error) {
	v, err := r.Init(name)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEventNotDecodable, name, err)
	}
	return v, nil
}
