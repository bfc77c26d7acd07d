package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/resgraph/internal/graph"
	"github.com/roach88/resgraph/internal/ir"
	"github.com/roach88/resgraph/internal/store"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Database string
	Prefix   string
}

// DumpedNode is the JSON form of a stored node.
type DumpedNode struct {
	Path      string   `json:"path"`
	Type      string   `json:"type,omitempty"`
	Active    bool     `json:"active"`
	Reference string   `json:"reference,omitempty"`
	Value     ir.Value `json:"value,omitempty"`
	Seq       int64    `json:"seq"`
}

// DumpResult is the output of the dump command.
type DumpResult struct {
	Seq   int64        `json:"seq"`
	Nodes []DumpedNode `json:"nodes"`
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the nodes stored in a graph database",
		Long: `Print the real nodes persisted in a graph database, in path order.

Example:
  resgraph dump --db ./graph.db
  resgraph dump --db ./graph.db --prefix /rooms --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", graph.RootPath, "only nodes at or below this path")
	opts.bind(cmd, "database", "db")

	return cmd
}

func runDump(opts *DumpOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if cfg.Database == "" {
		return NewExitError(ExitCommandError, "no database: pass --db or set database in the config")
	}
	if _, err := graph.Split(opts.Prefix); err != nil {
		return WrapExitError(ExitCommandError, "invalid prefix", err)
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	records, err := st.ReadNodes(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read nodes", err)
	}
	seq, err := st.LastSeq(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read sequence", err)
	}

	result := DumpResult{Seq: seq, Nodes: []DumpedNode{}}
	for _, rec := range records {
		if !graph.IsWithin(rec.Path, opts.Prefix) {
			continue
		}
		result.Nodes = append(result.Nodes, DumpedNode(rec))
	}

	return opts.formatter(cmd).Result(dumpText(result), result)
}

func dumpText(result DumpResult) string {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tTYPE\tACTIVE\tVALUE\tSEQ")
	for _, n := range result.Nodes {
		value := ir.Format(n.Value)
		if n.Reference != "" {
			value = "-> " + n.Reference
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%d\n", n.Path, n.Type, n.Active, value, n.Seq)
	}
	tw.Flush()
	fmt.Fprintf(&b, "%d node(s), seq %d\n", len(result.Nodes), result.Seq)
	return b.String()
}
