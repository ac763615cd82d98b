package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragflow-go/internal/logging"
)

// NewHistoryCmd constructs the `ragflow history` command, which prints the
// most recent answered queries from the SQLite query log.
func NewHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently answered queries",
		Long: `Show the most recent queries recorded in the local query log.

The log is written by 'ragflow query' and the HTTP server. Its location is
controlled by RAGFLOW_HISTORY_DB (default: ~/.ragflow/history.db).

Examples:
  ragflow history
  ragflow history --limit 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			queryLog, closeLog := openQueryLog(log)
			defer closeLog()
			if queryLog == nil {
				return fmt.Errorf("history: query log is unavailable")
			}

			records, err := queryLog.Recent(ctx, limit)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if len(records) == 0 {
				fmt.Fprintln(os.Stdout, "no queries recorded yet")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tROUTE\tHOPS\tWEB\tQUESTION")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%v\t%s\n",
					rec.CreatedAt.Format(time.RFC3339),
					rec.Route,
					rec.Hops,
					rec.WebSearch,
					truncate(rec.Question, 80),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of records to show")

	return cmd
}

// truncate shortens s to at most n runes, appending an ellipsis when cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
