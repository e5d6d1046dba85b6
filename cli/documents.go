package cli

import (
	"encoding/json"
	"fmt"

	"github.com/asaidimu/go-loom/core/persistence"
	"github.com/asaidimu/go-loom/core/query"
	"github.com/asaidimu/go-loom/core/schema"
	"github.com/spf13/cobra"
)

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <collection> <json>",
		Short: "Validate and insert documents",
		Long: `Validate and insert one document (a JSON object) or a batch (a JSON
array of objects). A batch is rejected whole on the first invalid document.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := parseDocuments(args[1])
			if err != nil {
				return err
			}

			s, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := s.collection(args[0])
			if err != nil {
				return err
			}
			return printEnvelope(cmd.OutOrStdout(), "add", c.Add(cmd.Context(), persistence.AddRequest{Docs: docs}))
		},
	}
}

func parseDocuments(arg string) ([]schema.Document, error) {
	var raw any
	if err := json.Unmarshal([]byte(arg), &raw); err != nil {
		return nil, fmt.Errorf("invalid document JSON: %w", err)
	}
	switch v := raw.(type) {
	case map[string]any:
		return []schema.Document{v}, nil
	case []any:
		docs := make([]schema.Document, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("invalid document JSON: item %d is not an object", i)
			}
			docs[i] = m
		}
		return docs, nil
	}
	return nil, fmt.Errorf("invalid document JSON: not an object or array")
}

type getOptions struct {
	sort    string
	desc    bool
	skip    int
	limit   int
	noRefs  bool
	idsOnly bool
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &getOptions{}

	cmd := &cobra.Command{
		Use:   "get <collection> [filter-json]",
		Short: "Query documents",
		Long: `Query documents with a Mongo-style filter. References are resolved to
the documents they point to unless --no-refs or --ids is given.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := &persistence.Query{
				Skip:      opts.skip,
				Limit:     opts.limit,
				NoRefDocs: opts.noRefs,
				RefIDOnly: opts.idsOnly,
			}
			if len(args) == 2 {
				find, err := parseObject("filter", args[1])
				if err != nil {
					return err
				}
				q.Find = find
			}
			if opts.sort != "" {
				direction := query.SortDirectionAsc
				if opts.desc {
					direction = query.SortDirectionDesc
				}
				q.Sort = []query.SortConfiguration{{Field: opts.sort, Direction: direction}}
			}

			s, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := s.collection(args[0])
			if err != nil {
				return err
			}
			return printEnvelope(cmd.OutOrStdout(), "get", c.Get(cmd.Context(), persistence.GetRequest{Query: q}))
		},
	}

	cmd.Flags().StringVar(&opts.sort, "sort", "", "sort field")
	cmd.Flags().BoolVar(&opts.desc, "desc", false, "sort descending")
	cmd.Flags().IntVar(&opts.skip, "skip", 0, "documents to skip")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum documents (0 for all)")
	cmd.Flags().BoolVar(&opts.noRefs, "no-refs", false, "leave references as stored pointers")
	cmd.Flags().BoolVar(&opts.idsOnly, "ids", false, "replace references with their ids")

	return cmd
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	var original, upsert bool

	cmd := &cobra.Command{
		Use:   "edit <collection> <filter-json> <fields-json>",
		Short: "Edit documents",
		Long: `Merge fields onto every document matching the filter and validate the
result before writing it. With --original the third argument is an update
document ($set, $inc, ...) applied without validation.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseObject("filter", args[1])
			if err != nil {
				return err
			}
			fields, err := parseObject("fields", args[2])
			if err != nil {
				return err
			}

			req := persistence.EditRequest{Docs: []persistence.EditSpec{{Filter: filter, Fields: fields}}}
			if original {
				req = persistence.EditRequest{Original: true, Filter: filter, Update: fields, Upsert: upsert}
			}

			s, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := s.collection(args[0])
			if err != nil {
				return err
			}
			return printEnvelope(cmd.OutOrStdout(), "edit", c.Edit(cmd.Context(), req))
		},
	}

	cmd.Flags().BoolVar(&original, "original", false, "apply a raw update document")
	cmd.Flags().BoolVar(&upsert, "upsert", false, "insert when nothing matches (with --original)")

	return cmd
}

// NewDelCommand creates the del command.
func NewDelCommand(rootOpts *RootOptions) *cobra.Command {
	var original bool

	cmd := &cobra.Command{
		Use:   "del <collection> <filter-json>",
		Short: "Delete documents",
		Long: `Delete the documents matching the filter. Documents still referenced
from another collection are kept unless --original is given.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseObject("filter", args[1])
			if err != nil {
				return err
			}

			s, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := s.collection(args[0])
			if err != nil {
				return err
			}
			req := persistence.DelRequest{Filter: filter, Original: original}
			return printEnvelope(cmd.OutOrStdout(), "del", c.Del(cmd.Context(), req))
		},
	}

	cmd.Flags().BoolVar(&original, "original", false, "delete referenced documents too")

	return cmd
}
