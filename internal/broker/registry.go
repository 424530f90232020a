package broker

import "fmt"

// Registry holds the brokers of all configured providers in configuration
// order. It is immutable after construction.
type Registry struct {
	order   []string
	brokers map[string]*Broker
}

// NewRegistry creates a registry. Provider ids must be unique.
func NewRegistry(brokers ...*Broker) (*Registry, error) {
	r := &Registry{
		brokers: make(map[string]*Broker, len(brokers)),
	}

	for _, b := range brokers {
		id := b.ID()
		if _, dup := r.brokers[id]; dup {
			return nil, fmt.Errorf("duplicate provider id %q", id)
		}
		r.brokers[id] = b
		r.order = append(r.order, id)
	}

	return r, nil
}

// Get returns the broker for a provider id.
func (r *Registry) Get(id string) (*Broker, error) {
	b, ok := r.brokers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	return b, nil
}

// IDs returns the provider ids in configuration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Brokers returns the brokers in configuration order.
func (r *Registry) Brokers() []*Broker {
	out := make([]*Broker, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.brokers[id])
	}
	return out
}
