// Package schema is the contract store. It registers contract definitions,
// orders them by dependency, and validates produced payloads against the
// JSON Schema compiled from each contract's required fields.
package schema

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ahrav/go-contracts/internal/domain"
	dcerrors "github.com/ahrav/go-contracts/internal/errors"
)

type entry struct {
	contract domain.Contract
	schema   *jsonschema.Schema
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l.With("component", "schema") }
}

// Store holds registered contracts and named contract sets. Contracts are
// immutable once registered. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	contracts map[string]*entry
	sets      map[string][]string
	logger    *slog.Logger
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		contracts: make(map[string]*entry),
		sets:      make(map[string][]string),
		logger:    slog.Default().With("component", "schema"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a contract. An invalid definition yields a
// *errors.ValidationError and a repeated id a *errors.DuplicateContractError.
// Dependencies need not be registered yet; they are checked by ResolveOrder.
func (s *Store) Register(c domain.Contract) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %w", &dcerrors.ValidationError{Field: "contract", Value: c.ID, Message: "invalid definition"}, err)
	}

	compiled, err := compileContract(c)
	if err != nil {
		return fmt.Errorf("compile schema for contract %s: %w", c.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.contracts[c.ID]; exists {
		return &dcerrors.DuplicateContractError{ID: c.ID}
	}
	s.contracts[c.ID] = &entry{contract: cloneContract(c), schema: compiled}
	s.logger.Debug("contract registered", "contract_id", c.ID, "fields", len(c.RequiredFields))
	return nil
}

// Get returns a registered contract.
func (s *Store) Get(id string) (domain.Contract, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.contracts[id]
	if !ok {
		return domain.Contract{}, false
	}
	return cloneContract(e.contract), true
}

// IDs returns every registered contract id in order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.contracts))
	for id := range s.contracts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefineSet names a group of contracts. Members must already be registered.
func (s *Store) DefineSet(name string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.contracts[id]; !ok {
			return &dcerrors.UnknownContractError{ID: id, ReferencedBy: "set " + name}
		}
	}
	s.sets[name] = append([]string(nil), ids...)
	return nil
}

// Set returns the contract ids of a named set.
func (s *Store) Set(name string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, ok := s.sets[name]
	if !ok {
		return nil, &dcerrors.NotFoundError{What: "contract set", Name: name}
	}
	return append([]string(nil), ids...), nil
}

// SetNames returns the defined set names in order.
func (s *Store) SetNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.sets))
	for n := range s.sets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// cloneContract copies the slices of c so callers cannot mutate stored state.
func cloneContract(c domain.Contract) domain.Contract {
	c.RequiredFields = append([]domain.FieldSpec(nil), c.RequiredFields...)
	c.Dependencies = append([]string(nil), c.Dependencies...)
	return c
}
