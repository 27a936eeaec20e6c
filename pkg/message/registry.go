package message

import (
	"slices"
	"sync"

	"github.com/sessamekesh/kbengine-netcode-client/pkg/errors"
	"go.uber.org/zap"
)

// Registry maps message ids to descriptors for decoding and names to
// descriptors for encoding. Descriptors are copied on registration and never
// changed afterwards.
type Registry struct {
	log *zap.Logger

	mut_descriptors sync.RWMutex
	byID            map[uint16]*Descriptor
	byName          map[string]*Descriptor
	handlers        map[string]Handler
}

type RegistryParams struct {
	Logger *zap.Logger

	// SkipBootstrap leaves out the descriptors known before any import.
	SkipBootstrap bool
}

func CreateRegistry(params RegistryParams) *Registry {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	r := &Registry{
		log:      logger.With(zap.String("component", "MessageRegistry")),
		byID:     make(map[uint16]*Descriptor),
		byName:   make(map[string]*Descriptor),
		handlers: make(map[string]Handler),
	}

	if !params.SkipBootstrap {
		for _, desc := range bootstrapDescriptors() {
			// Bootstrap names and ids are distinct, this cannot collide.
			r.Register(desc)
		}
	}

	return r
}

// Register adds desc. Registering an identical id/name pair again replaces the
// previous entry, which is what a second import of the same table does. A
// name bound to another id, or an incoming id bound to another name, is a
// collision.
func (r *Registry) Register(desc Descriptor) error {
	r.mut_descriptors.Lock()
	defer r.mut_descriptors.Unlock()

	if existing, has := r.byName[desc.Name]; has && existing.ID != desc.ID {
		return &errors.NameCollision{
			CollisionContext: "MessageRegistry::name",
			Name:             desc.Name,
		}
	}

	stored := desc
	stored.Args = slices.Clone(desc.Args)
	if stored.Handler == nil {
		stored.Handler = r.handlers[desc.Name]
	}

	if stored.IsClientMethod() {
		if existing, has := r.byID[desc.ID]; has && existing.Name != desc.Name {
			return &errors.NameCollision{
				CollisionContext: "MessageRegistry::id",
				Name:             desc.Name,
			}
		}
		r.byID[desc.ID] = &stored
	}
	r.byName[desc.Name] = &stored

	return nil
}

// BindHandler attaches the local handler for an incoming message name. It
// applies to descriptors registered before and after the call.
func (r *Registry) BindHandler(name string, handler Handler) {
	r.mut_descriptors.Lock()
	defer r.mut_descriptors.Unlock()

	r.handlers[name] = handler

	existing, has := r.byName[name]
	if !has {
		return
	}
	rebound := *existing
	rebound.Handler = handler
	r.byName[name] = &rebound
	if rebound.IsClientMethod() {
		r.byID[rebound.ID] = &rebound
	}
}

// ByID looks up an incoming message.
func (r *Registry) ByID(id uint16) (*Descriptor, bool) {
	r.mut_descriptors.RLock()
	defer r.mut_descriptors.RUnlock()

	desc, has := r.byID[id]
	return desc, has
}

// ByName looks up a message by its full name, e.g. "Loginapp_hello".
func (r *Registry) ByName(name string) (*Descriptor, bool) {
	r.mut_descriptors.RLock()
	defer r.mut_descriptors.RUnlock()

	desc, has := r.byName[name]
	return desc, has
}

// MustByName is ByName returning a typed error.
func (r *Registry) MustByName(name string) (*Descriptor, error) {
	desc, has := r.ByName(name)
	if !has {
		return nil, &errors.UnknownMessage{Name: name}
	}
	return desc, nil
}

func (r *Registry) Len() int {
	r.mut_descriptors.RLock()
	defer r.mut_descriptors.RUnlock()
	return len(r.byName)
}
