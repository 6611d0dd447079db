package sink

import (
	"sort"
	"sync"

	"github.com/mklimuk/sensorpipe"
)

// Registry keeps sinks unique by path. The same instance may be added more
// than once, since several pipelines can share a sink.
type Registry struct {
	mx    sync.Mutex
	sinks map[string]sensorpipe.Sink
}

func NewRegistry() *Registry {
	return &Registry{sinks: make(map[string]sensorpipe.Sink)}
}

func (r *Registry) Add(s sensorpipe.Sink) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	existing, ok := r.sinks[s.Path()]
	if ok && existing != s {
		return sensorpipe.ConfigError("duplicate sink path %q", s.Path())
	}
	r.sinks[s.Path()] = s
	return nil
}

func (r *Registry) Get(path string) (sensorpipe.Sink, bool) {
	r.mx.Lock()
	defer r.mx.Unlock()
	s, ok := r.sinks[path]
	return s, ok
}

// All returns the registered sinks ordered by path.
func (r *Registry) All() []sensorpipe.Sink {
	r.mx.Lock()
	defer r.mx.Unlock()
	res := make([]sensorpipe.Sink, 0, len(r.sinks))
	for _, s := range r.sinks {
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Path() < res[j].Path() })
	return res
}
