package db

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/arwahdevops/dbtester/internal/dberrors"
	"github.com/arwahdevops/dbtester/internal/metrics"
)

// Registry maps data source names, plus one default, to connectors.
// Reads may run concurrently; writes are serialized and the last
// registration for a name wins.
type Registry struct {
	mu          sync.RWMutex
	named       map[string]*Connector
	defaultConn *Connector
	metrics     *metrics.Store
}

func NewRegistry(metricsStore *metrics.Store) *Registry {
	return &Registry{named: make(map[string]*Connector), metrics: metricsStore}
}

var global = NewRegistry(nil)

// Global returns the process-wide registry.
func Global() *Registry { return global }

// Register binds conn to name.
func (r *Registry) Register(name string, conn *Connector) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return dberrors.Configuration("data source name must not be blank", nil)
	}
	if conn == nil {
		return dberrors.Configuration(fmt.Sprintf("data source %q: connector must not be nil", name), nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.named[name] = conn
	r.updateGauge()
	return nil
}

// RegisterDefault sets the connector used when no name is given.
func (r *Registry) RegisterDefault(conn *Connector) error {
	if conn == nil {
		return dberrors.Configuration("default data source: connector must not be nil", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultConn = conn
	r.updateGauge()
	return nil
}

func (r *Registry) Get(name string) (*Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.named[name]
	if !ok {
		return nil, dberrors.DataSourceNotFound(name)
	}
	return conn, nil
}

func (r *Registry) Default() (*Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultConn == nil {
		return nil, dberrors.DataSourceNotFound("")
	}
	return r.defaultConn, nil
}

// Resolve returns the named connector, or the default for an empty name.
func (r *Registry) Resolve(name string) (*Connector, error) {
	if strings.TrimSpace(name) == "" {
		return r.Default()
	}
	return r.Get(name)
}

// Names lists registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.named)
}

// Connectors returns a snapshot keyed by name; the default is under "".
func (r *Registry) Connectors() map[string]*Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Connector, len(r.named)+1)
	for n, c := range r.named {
		out[n] = c
	}
	if r.defaultConn != nil {
		out[""] = r.defaultConn
	}
	return out
}

// Clear forgets every registration without closing connections.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.named = make(map[string]*Connector)
	r.defaultConn = nil
	r.updateGauge()
}

// CloseAll closes every distinct connector and clears the registry.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[*Connector]bool)
	var errs error
	closeOnce := func(c *Connector) {
		if c == nil || seen[c] {
			return
		}
		seen[c] = true
		errs = multierr.Append(errs, c.Close())
	}
	closeOnce(r.defaultConn)
	for _, n := range sortedKeys(r.named) {
		closeOnce(r.named[n])
	}
	r.named = make(map[string]*Connector)
	r.defaultConn = nil
	r.updateGauge()
	return errs
}

// caller holds r.mu
func (r *Registry) updateGauge() {
	if r.metrics == nil {
		return
	}
	n := len(r.named)
	if r.defaultConn != nil {
		n++
	}
	r.metrics.RegisteredDataSources.Set(float64(n))
}

func sortedKeys(m map[string]*Connector) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
