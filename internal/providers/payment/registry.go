package payment

import (
	"sort"
	"strings"

	"github.com/comandahub/paycore/internal/providers/payment/domain"
)

type registry struct {
	adapters map[string]domain.Adapter
}

// NewRegistry indexes the given adapters by name.
func NewRegistry(adapters ...domain.Adapter) domain.Registry {
	indexed := make(map[string]domain.Adapter, len(adapters))
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		indexed[strings.ToLower(adapter.Name())] = adapter
	}
	return &registry{adapters: indexed}
}

func (r *registry) Get(name string) (domain.Adapter, error) {
	adapter, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, domain.ErrUnknownProvider
	}
	return adapter, nil
}

func (r *registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
