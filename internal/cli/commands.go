package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sanonone/tagdb/pkg/engine"
	"github.com/sanonone/tagdb/pkg/graph"
)

func (a *app) newTagCmd() *cobra.Command {
	var tagType string

	cmd := &cobra.Command{
		Use:   "tag <tag> <target>",
		Short: "Tag a file path or a web address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *engine.Engine) error {
				if err := eng.TagItem(cmd.Context(), tagType, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tagged %s with %s\n", args[1], args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tagType, "type", "", "tag type recorded when the tag is created")
	return cmd
}

func (a *app) newCreateCmd() *cobra.Command {
	var tagType string

	cmd := &cobra.Command{
		Use:   "create <tag>",
		Short: "Create a tag without tagging anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *engine.Engine) error {
				id, err := eng.CreateTag(cmd.Context(), tagType, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tagType, "type", "", "tag type")
	return cmd
}

func (a *app) newShowCmd() *cobra.Command {
	var (
		all   bool
		tags  []string
		items []string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "List tagged items",
		Long: `List tagged items as a table.

  --all            every tag with every item it labels
  --tags a,b       the items labelled by the given tags
  --items x,y      the tags attached to the given paths or URLs`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(func(eng *engine.Engine) error {
				var (
					rows []graph.Row
					err  error
				)
				switch {
				case len(tags) > 0:
					rows, err = eng.FindRelated(cmd.Context(), tags)
				case len(items) > 0:
					rows, err = eng.FindTagsForItems(cmd.Context(), items)
				default:
					rows, err = eng.ListAll(cmd.Context())
				}
				if err != nil {
					return err
				}
				return renderRows(cmd.OutOrStdout(), rows)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "show every association (default)")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "comma separated tag names")
	cmd.Flags().StringSliceVar(&items, "items", nil, "comma separated paths or URLs")
	cmd.MarkFlagsMutuallyExclusive("all", "tags", "items")
	return cmd
}

func (a *app) newDeleteCmd() *cobra.Command {
	var (
		tags []string
		ids  []string
	)

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete tags by name or vertices by id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(tags) == 0 && len(ids) == 0 {
				return errors.New("nothing to delete: pass --tags or --ids")
			}
			parsed := make([]uuid.UUID, 0, len(ids))
			for _, s := range ids {
				id, err := uuid.Parse(s)
				if err != nil {
					return fmt.Errorf("invalid id %q: %w", s, err)
				}
				parsed = append(parsed, id)
			}

			return a.withEngine(func(eng *engine.Engine) error {
				deleted := 0
				for _, tag := range tags {
					n, err := eng.DeleteByProperty(cmd.Context(), graph.TagnameProperty, tag)
					if err != nil {
						return err
					}
					deleted += n
				}
				for _, id := range parsed {
					if err := eng.DeleteVertex(cmd.Context(), id); err != nil {
						return err
					}
					deleted++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d vertices\n", deleted)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "comma separated tag names")
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "comma separated vertex ids")
	return cmd
}

func (a *app) newNeighborsCmd() *cobra.Command {
	var (
		typeName string
		hops     int
	)

	cmd := &cobra.Command{
		Use:   "neighbors <property> <value>",
		Short: "Walk the graph outward from one vertex",
		Long: `Walk the graph from the vertex whose property equals value.

Levels alternate direction. From a tag the output alternates items and
sibling tags; from a path or URL it alternates tags and sibling items.`,
		Example: `  tagdb neighbors Tagname golang --hops 3
  tagdb neighbors Http https://go.dev --type http`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := graph.ParseVertexType(typeName)
			if err != nil {
				return err
			}
			start := graph.Start{Type: typ, Property: args[0], Value: args[1]}
			return a.withEngine(func(eng *engine.Engine) error {
				levels, err := eng.NeighborsAtDepth(cmd.Context(), start, hops)
				if err != nil {
					return err
				}
				return renderLevels(cmd.OutOrStdout(), levels)
			})
		},
	}
	cmd.Flags().StringVar(&typeName, "type", "", "restrict the start vertex to a type (tag, path, http)")
	cmd.Flags().IntVar(&hops, "hops", 2, "number of levels to walk")
	return cmd
}

func (a *app) newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the property index from the stored vertices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(func(eng *engine.Engine) error {
				n, err := eng.Reindex(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reindexed %d entries\n", n)
				return nil
			})
		},
	}
}

func (a *app) newCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Reclaim disk space held by deleted data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(func(eng *engine.Engine) error {
				return eng.Compact()
			})
		},
	}
}

func renderRows(w io.Writer, rows []graph.Row) error {
	table := tablewriter.NewWriter(w)
	table.Header("Tag", "Item", "Type")
	for _, r := range rows {
		if err := table.Append(r.Tag, r.Item, r.ItemType.String()); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderLevels(w io.Writer, levels []graph.Level) error {
	table := tablewriter.NewWriter(w)
	table.Header("Depth", "Values")
	for _, l := range levels {
		if err := table.Append(strconv.Itoa(l.Depth), strings.Join(l.Values, ", ")); err != nil {
			return err
		}
	}
	return table.Render()
}
