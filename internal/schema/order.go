package schema

import (
	"sort"

	dcerrors "github.com/ahrav/go-contracts/internal/errors"
)

// ResolveOrder returns ids and all their transitive dependencies in an order
// where every contract follows its dependencies. Ties are broken by id so
// the order is deterministic. An empty ids resolves every registered
// contract.
func (s *Store) ResolveOrder(ids []string) ([]string, error) {
	waves, err := s.ResolveWaves(ids)
	if err != nil {
		return nil, err
	}
	var order []string
	for _, w := range waves {
		order = append(order, w...)
	}
	return order, nil
}

// ResolveWaves groups the resolved contracts into dependency waves: wave 0
// has no dependencies and every contract in wave n depends only on
// contracts in earlier waves. Contracts within a wave are independent and
// sorted by id.
func (s *Store) ResolveWaves(ids []string) ([][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(ids) == 0 {
		for id := range s.contracts {
			ids = append(ids, id)
		}
	}

	// Collect the dependency closure.
	closure := make(map[string][]string)
	stack := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := s.contracts[id]; !ok {
			return nil, &dcerrors.UnknownContractError{ID: id}
		}
		stack = append(stack, id)
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := closure[id]; seen {
			continue
		}
		deps := s.contracts[id].contract.Dependencies
		closure[id] = deps
		for _, d := range deps {
			if _, ok := s.contracts[d]; !ok {
				return nil, &dcerrors.UnknownContractError{ID: d, ReferencedBy: id}
			}
			stack = append(stack, d)
		}
	}

	// Kahn's algorithm, one wave at a time.
	indegree := make(map[string]int, len(closure))
	dependents := make(map[string][]string, len(closure))
	for id, deps := range closure {
		indegree[id] = len(deps)
		for _, d := range deps {
			dependents[d] = append(dependents[d], id)
		}
	}

	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}

	var waves [][]string
	resolved := 0
	for len(ready) > 0 {
		sort.Strings(ready)
		waves = append(waves, ready)
		resolved += len(ready)

		var next []string
		for _, id := range ready {
			for _, dep := range dependents[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		ready = next
	}

	if resolved < len(closure) {
		return nil, &dcerrors.CyclicDependencyError{Contracts: findCycle(closure, indegree)}
	}
	return waves, nil
}

// findCycle walks unresolved dependency edges from the smallest unresolved
// id until a contract repeats and returns that loop, closed, e.g.
// [a b a]. Every unresolved contract has an unresolved dependency, so the
// walk always finds one.
func findCycle(closure map[string][]string, indegree map[string]int) []string {
	var remaining []string
	for id, n := range indegree {
		if n > 0 {
			remaining = append(remaining, id)
		}
	}
	sort.Strings(remaining)

	pos := make(map[string]int)
	var path []string
	cur := remaining[0]
	for {
		if i, seen := pos[cur]; seen {
			return append(path[i:], cur)
		}
		pos[cur] = len(path)
		path = append(path, cur)

		deps := append([]string(nil), closure[cur]...)
		sort.Strings(deps)
		for _, d := range deps {
			if indegree[d] > 0 {
				cur = d
				break
			}
		}
	}
}
