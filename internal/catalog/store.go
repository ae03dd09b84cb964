package catalog

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zjrosen/archnodes/internal/log"
	"github.com/zjrosen/archnodes/internal/provider"
)

// Store holds the loaded catalogs of every provider.
//
// Loaded catalogs are read concurrently without locking. Load and Reload are
// serialized and publish a complete new state with a single atomic swap.
type Store struct {
	loader *Loader
	mu     sync.Mutex
	state  atomic.Pointer[storeState]
}

type storeState struct {
	catalogs map[provider.Provider]*Catalog
	errs     map[provider.Provider]error
}

// NewStore creates an empty store backed by loader.
func NewStore(loader *Loader) *Store {
	s := &Store{loader: loader}
	s.state.Store(&storeState{
		catalogs: map[provider.Provider]*Catalog{},
		errs:     map[provider.Provider]error{},
	})
	return s
}

// Load loads the catalogs of providers (all providers when none are given).
// A provider whose catalog fails keeps that error: every later Get for it
// returns the same error. The returned error joins all failures.
func (s *Store) Load(providers ...provider.Provider) error {
	if len(providers) == 0 {
		providers = provider.All()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Load().clone()
	var errs []error
	for _, p := range providers {
		c, err := s.loader.Load(p)
		if err != nil {
			delete(next.catalogs, p)
			next.errs[p] = err
			errs = append(errs, err)
			continue
		}
		delete(next.errs, p)
		next.catalogs[p] = c
	}
	s.state.Store(next)

	return errors.Join(errs...)
}

// Reload re-reads every provider that was previously loaded or attempted.
// The new catalogs replace the old ones only if every previously loaded
// provider still validates; otherwise the current state is kept and the
// joined errors are returned. Providers that were failing and still fail
// keep their new error without blocking the swap.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.state.Load()
	next := &storeState{
		catalogs: make(map[provider.Provider]*Catalog, len(current.catalogs)),
		errs:     map[provider.Provider]error{},
	}

	var errs []error
	for _, p := range current.attempted() {
		c, err := s.loader.Load(p)
		if err != nil {
			if _, loaded := current.catalogs[p]; loaded {
				errs = append(errs, err)
			} else {
				next.errs[p] = err
			}
			continue
		}
		next.catalogs[p] = c
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		log.ErrorErr(log.CatCatalog, "Reload rejected, keeping current catalogs", err)
		return fmt.Errorf("reload catalogs: %w", err)
	}

	s.state.Store(next)
	log.Info(log.CatCatalog, "Catalogs reloaded", "providers", len(next.catalogs))
	return nil
}

// Get returns the catalog of p, or the error its load failed with.
func (s *Store) Get(p provider.Provider) (*Catalog, error) {
	st := s.state.Load()
	if c, ok := st.catalogs[p]; ok {
		return c, nil
	}
	if err, ok := st.errs[p]; ok {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", ErrNotLoaded, p)
}

// Providers returns the providers whose catalogs loaded successfully, in provider.All order.
func (s *Store) Providers() []provider.Provider {
	st := s.state.Load()
	var out []provider.Provider
	for _, p := range provider.All() {
		if _, ok := st.catalogs[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (st *storeState) clone() *storeState {
	next := &storeState{
		catalogs: make(map[provider.Provider]*Catalog, len(st.catalogs)),
		errs:     make(map[provider.Provider]error, len(st.errs)),
	}
	for k, v := range st.catalogs {
		next.catalogs[k] = v
	}
	for k, v := range st.errs {
		next.errs[k] = v
	}
	return next
}

func (st *storeState) attempted() []provider.Provider {
	var out []provider.Provider
	for _, p := range provider.All() {
		_, loaded := st.catalogs[p]
		_, failed := st.errs[p]
		if loaded || failed {
			out = append(out, p)
		}
	}
	return out
}
