package flow

import "sort"

// Registry maps flow names to their compiled subgraphs. Built once from
// configuration at startup and immutable afterwards.
type Registry struct {
	subgraphs map[string]*Subgraph
	configs   map[string]FlowConfig
}

// BuildRegistry compiles every configured flow. Any compilation failure
// aborts the build; the runtime refuses to serve with a broken definition.
func BuildRegistry(flows map[string]FlowConfig, opts CompileOptions) (*Registry, error) {
	r := &Registry{
		subgraphs: make(map[string]*Subgraph, len(flows)),
		configs:   make(map[string]FlowConfig, len(flows)),
	}

	// Deterministic compile order so the first error is stable.
	names := make([]string, 0, len(flows))
	for name := range flows {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cfg := flows[name]
		if cfg.Name == "" {
			cfg.Name = name
		}
		sub, err := Compile(cfg, opts)
		if err != nil {
			return nil, err
		}
		r.subgraphs[name] = sub
		r.configs[name] = cfg
	}
	return r, nil
}

// Get returns the compiled subgraph for the named flow.
func (r *Registry) Get(name string) (*Subgraph, bool) {
	sub, ok := r.subgraphs[name]
	return sub, ok
}

// Config returns the declarative definition for the named flow.
func (r *Registry) Config(name string) (FlowConfig, bool) {
	cfg, ok := r.configs[name]
	return cfg, ok
}

// Names lists the registered flow names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.subgraphs))
	for name := range r.subgraphs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
