package graph

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TagItem links tagName to target, creating the tag and item vertices on
// first use. Path targets are stored in absolute, symlink-free form. tagType is recorded as the tag's label when the tag is created.
// The whole operation commits atomically and is idempotent: repeated calls
// leave exactly one tag vertex, one item vertex and one edge.
func (s *Store) TagItem(ctx context.Context, tagType, tagName, target string) error {
	const op = "TagItem"
	start := time.Now()
	if tagName == "" {
		err := newError(op, ErrInvalidArgument, tagName)
		s.observe(op, start, err)
		return err
	}
	itemType, cerr := s.classify(target)
	if cerr != nil {
		cerr.Op = op
		s.observe(op, start, cerr)
		return cerr
	}
	value := itemValue(itemType, target)

	var linked bool
	err := s.update(ctx, op, func(t *tx) error {
		item, err := t.findOrCreate(itemType, "", itemType.String(), value)
		if err != nil {
			return err
		}
		tag, err := t.findOrCreate(Tag, tagType, TagnameProperty, tagName)
		if err != nil {
			return err
		}
		shared, err := t.countShared(tag, item)
		if err != nil {
			return err
		}
		if shared > 0 {
			return nil
		}
		linked = true
		return t.createEdge(tag, item, Tags)
	})
	if err == nil && linked {
		s.logger.Debug("item tagged", "tag", tagName, "item", value, "type", itemType)
	}
	return err
}

// CreateTag returns the tag vertex named name, creating it with label
// tagType if it does not exist yet.
func (s *Store) CreateTag(ctx context.Context, tagType, name string) (uuid.UUID, error) {
	if name == "" {
		return uuid.Nil, newError("CreateTag", ErrInvalidArgument, name)
	}
	var id uuid.UUID
	err := s.update(ctx, "CreateTag", func(t *tx) error {
		var err error
		id, err = t.findOrCreate(Tag, tagType, TagnameProperty, name)
		return err
	})
	return id, err
}

// FindTag returns the ids of the tag vertices named name.
func (s *Store) FindTag(ctx context.Context, name string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.view(ctx, "FindTag", func(t *tx) error {
		var err error
		ids, err = t.findByProperty(Tag, TagnameProperty, name)
		return err
	})
	return ids, err
}

// FindRelated returns one row per item tagged with any of tagNames, in the
// order the names are given. Unknown names contribute no rows.
func (s *Store) FindRelated(ctx context.Context, tagNames []string) ([]Row, error) {
	var rows []Row
	err := s.view(ctx, "FindRelated", func(t *tx) error {
		rows = rows[:0]
		for _, name := range tagNames {
			tags, err := t.findByProperty(Tag, TagnameProperty, name)
			if err != nil {
				return err
			}
			for _, tag := range tags {
				items, err := t.neighbors(tag, Tags, Outbound)
				if err != nil {
					return err
				}
				for _, id := range items {
					item, err := t.getVertex(id)
					if err != nil {
						return err
					}
					rows = append(rows, Row{Tag: name, Item: item.Value(), ItemType: item.Type})
				}
			}
		}
		return nil
	})
	return rows, err
}

// FindTagsForItems returns one row per tag attached to any of identifiers.
// Identifiers are matched against both Path and Http items; for Path items
// the identifier is resolved the same way TagItem stores it.
func (s *Store) FindTagsForItems(ctx context.Context, identifiers []string) ([]Row, error) {
	var rows []Row
	err := s.view(ctx, "FindTagsForItems", func(t *tx) error {
		rows = rows[:0]
		for _, ident := range identifiers {
			for _, typ := range []VertexType{Path, Http} {
				value := itemValue(typ, ident)
				items, err := t.findByProperty(typ, typ.String(), value)
				if err != nil {
					return err
				}
				for _, item := range items {
					tags, err := t.neighbors(item, Tags, Inbound)
					if err != nil {
						return err
					}
					for _, id := range tags {
						tag, err := t.getVertex(id)
						if err != nil {
							return err
						}
						rows = append(rows, Row{Tag: tag.Value(), Item: value, ItemType: typ})
					}
				}
			}
		}
		return nil
	})
	return rows, err
}

// ListAll returns every tag/item association, grouped by tag in id order.
func (s *Store) ListAll(ctx context.Context) ([]Row, error) {
	var rows []Row
	err := s.view(ctx, "ListAll", func(t *tx) error {
		rows = rows[:0]
		var tags []Vertex
		if err := t.eachVertex(func(v Vertex) error {
			if v.Type == Tag {
				tags = append(tags, v)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, tag := range tags {
			items, err := t.neighbors(tag.ID, Tags, Outbound)
			if err != nil {
				return err
			}
			for _, id := range items {
				item, err := t.getVertex(id)
				if err != nil {
					return err
				}
				rows = append(rows, Row{Tag: tag.Value(), Item: item.Value(), ItemType: item.Type})
			}
		}
		return nil
	})
	return rows, err
}
