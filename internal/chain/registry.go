package chain

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Status is a point-in-time view of one registered chain.
type Status struct {
	Name    string
	Playing bool
	Roles   []Role
}

// Registry maps names to chains. It is the single source of truth for name
// resolution; a chain leaves the registry when it is freed.
type Registry struct {
	mu       sync.RWMutex
	chains   map[string]*Chain
	onRemove []func(*Chain)

	engine Engine
	log    *zap.Logger
}

// NewRegistry creates an empty registry whose chains build voices on engine.
func NewRegistry(engine Engine, logger *zap.Logger) *Registry {
	if engine == nil {
		engine = NopEngine{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		chains: make(map[string]*Chain),
		engine: engine,
		log:    logger,
	}
}

// Create builds and registers a chain. A name already in use is suffixed
// (name_2, name_3, ...); the registered name is available from Chain.Name.
func (r *Registry) Create(name string, slots int) *Chain {
	r.mu.Lock()
	unique := r.uniqueNameLocked(name)
	c := newChain(unique, slots, r.engine, r.log)
	c.release = r.unregister
	r.chains[unique] = c
	count := len(r.chains)
	r.mu.Unlock()

	if unique != strings.TrimSpace(name) {
		r.log.Info("chain name taken, registered with suffix",
			zap.String("requested", name),
			zap.String("name", unique))
	}
	r.log.Debug("chain registered",
		zap.String("name", unique),
		zap.Int("slots", c.Len()),
		zap.Int("registered", count))
	return c
}

func (r *Registry) uniqueNameLocked(name string) string {
	base := strings.TrimSpace(name)
	if base == "" {
		base = "chain"
	}
	if _, taken := r.chains[base]; !taken {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d", base, n)
		if _, taken := r.chains[candidate]; !taken {
			return candidate
		}
	}
}

// Resolve looks a chain up by name.
func (r *Registry) Resolve(name string) (*Chain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chains[name]
	return c, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of registered chains.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chains)
}

// Remove frees and unregisters the named chain. Removing an unknown name is
// not an error; it reports false.
func (r *Registry) Remove(name string) bool {
	c, ok := r.Resolve(name)
	if !ok {
		r.log.Debug("remove: chain not registered", zap.String("name", name))
		return false
	}
	c.Free()
	return true
}

// Status returns a snapshot of every registered chain, sorted by name.
func (r *Registry) Status() []Status {
	r.mu.RLock()
	chains := make([]*Chain, 0, len(r.chains))
	for _, c := range r.chains {
		chains = append(chains, c)
	}
	r.mu.RUnlock()

	out := make([]Status, 0, len(chains))
	for _, c := range chains {
		out = append(out, Status{Name: c.Name(), Playing: c.IsPlaying(), Roles: c.Roles()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FreeAll frees every registered chain and returns how many were freed.
func (r *Registry) FreeAll() int {
	r.mu.RLock()
	chains := make([]*Chain, 0, len(r.chains))
	for _, c := range r.chains {
		chains = append(chains, c)
	}
	r.mu.RUnlock()

	for _, c := range chains {
		c.Free()
	}
	r.log.Info("freed all chains", zap.Int("count", len(chains)))
	return len(chains)
}

// OnRemove registers fn to run after a chain leaves the registry.
func (r *Registry) OnRemove(fn func(*Chain)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = append(r.onRemove, fn)
}

func (r *Registry) unregister(c *Chain) {
	r.mu.Lock()
	if cur, ok := r.chains[c.Name()]; !ok || cur != c {
		r.mu.Unlock()
		return
	}
	delete(r.chains, c.Name())
	hooks := make([]func(*Chain), len(r.onRemove))
	copy(hooks, r.onRemove)
	r.mu.Unlock()

	for _, fn := range hooks {
		fn(c)
	}
	r.log.Debug("chain unregistered", zap.String("name", c.Name()))
}
