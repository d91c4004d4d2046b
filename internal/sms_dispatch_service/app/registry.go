package app

import (
	"sort"

	"github.com/textgate/textgate/internal/sms_dispatch_service/health"
)

// Instance pairs one configured dispatch service with its health probe. Each
// instance owns an independent worker pool and cache/lock pair; nothing
// mutable is shared across instances.
type Instance struct {
	Service *DispatchService
	Probe   *health.Probe
}

// Registry maps instance names (e.g. "default", "production") to their
// constructed Instance. It is built once by the composition root and
// read-only afterwards, so lookups need no locking; there is no ambient or
// global registry.
type Registry struct {
	instances map[string]*Instance
}

func NewRegistry() *Registry {
	return &Registry{instances: make(map[string]*Instance)}
}

func (r *Registry) Register(name string, inst *Instance) {
	r.instances[name] = inst
}

func (r *Registry) Get(name string) (*Instance, bool) {
	inst, ok := r.instances[name]
	return inst, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.instances))
	for name := range r.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
