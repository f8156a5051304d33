package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// step expands frontier by one hop in dir over every edge kind.
func (t *tx) step(frontier []uuid.UUID, dir Direction) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{})
	var next []uuid.UUID
	for _, id := range frontier {
		err := t.eachAdjacent(id, AnyKind, dir, func(other uuid.UUID, _ EdgeKind) error {
			if _, dup := seen[other]; !dup {
				seen[other] = struct{}{}
				next = append(next, other)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sortIDs(next)
	return next, nil
}

// Step returns the distinct vertices one edge away from any vertex of
// frontier, following outbound or inbound edges, sorted by id.
func (s *Store) Step(ctx context.Context, frontier []uuid.UUID, dir Direction) ([]uuid.UUID, error) {
	var next []uuid.UUID
	err := s.view(ctx, "Step", func(t *tx) error {
		var err error
		next, err = t.step(frontier, dir)
		return err
	})
	return next, err
}

// StepOutIn performs one outbound step from frontier and then one inbound
// step from the result, in a single snapshot. Starting from tags this yields
// the tagged items and then every tag sharing one of them.
func (s *Store) StepOutIn(ctx context.Context, frontier []uuid.UUID) (out, in []uuid.UUID, err error) {
	err = s.view(ctx, "StepOutIn", func(t *tx) error {
		var err error
		if out, err = t.step(frontier, Outbound); err != nil {
			return err
		}
		in, err = t.step(out, Inbound)
		return err
	})
	return out, in, err
}

// NeighborsAtDepth walks up to hops levels away from the single vertex
// matching start and returns the values reached at each level.
//
// Levels alternate direction. From a tag, odd levels follow outbound edges
// and even levels inbound ones, giving items, sibling tags, their items and
// so on. From an item the walk starts inbound instead, giving its tags, the
// other items of those tags, and so on. A vertex appears only at the first level it is reached; the start
// vertex counts as level 0. The walk stops early once a level is empty, and
// hops == 0 resolves the start and returns no levels.
func (s *Store) NeighborsAtDepth(ctx context.Context, start Start, hops int) ([]Level, error) {
	const op = "NeighborsAtDepth"
	limits := s.opts.Limits
	if hops < 0 {
		err := newError(op, ErrInvalidArgument, fmt.Sprintf("hops=%d", hops))
		s.observe(op, time.Now(), err)
		return nil, err
	}
	if hops > limits.MaxHops {
		err := newError(op, ErrTraversalLimit, fmt.Sprintf("hops=%d max=%d", hops, limits.MaxHops))
		s.observe(op, time.Now(), err)
		return nil, err
	}

	var levels []Level
	err := s.view(ctx, op, func(t *tx) error {
		levels = levels[:0]
		value := start.Value
		if start.Property == Path.String() {
			value = canonicalPath(value)
		}
		ids, err := t.findByProperty(start.Type, start.Property, value)
		if err != nil {
			return err
		}
		switch len(ids) {
		case 0:
			return &Error{Kind: ErrNotFound, Value: start.Value}
		case 1:
		default:
			return &Error{Kind: ErrAmbiguousMatch, Value: start.Value, IDs: ids}
		}

		origin, err := t.getVertex(ids[0])
		if err != nil {
			return err
		}
		first := Outbound
		if origin.Type.IsItem() {
			first = Inbound
		}

		visited := map[uuid.UUID]struct{}{ids[0]: {}}
		frontier := ids
		for depth := 1; depth <= hops; depth++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			dir := first
			if depth%2 == 0 {
				dir = first.Reverse()
			}
			reached, err := t.step(frontier, dir)
			if err != nil {
				return err
			}

			fresh := reached[:0]
			for _, id := range reached {
				if _, ok := visited[id]; !ok {
					visited[id] = struct{}{}
					fresh = append(fresh, id)
				}
			}
			if len(fresh) == 0 {
				break
			}
			if len(fresh) > limits.MaxFrontier {
				return &Error{Kind: ErrTraversalLimit, Value: fmt.Sprintf("frontier=%d max=%d", len(fresh), limits.MaxFrontier)}
			}

			level := Level{Depth: depth, Values: make([]string, 0, len(fresh))}
			for _, id := range fresh {
				v, err := t.getVertex(id)
				if err != nil {
					return err
				}
				level.Values = append(level.Values, v.Value())
			}
			levels = append(levels, level)
			frontier = fresh
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return levels, nil
}
