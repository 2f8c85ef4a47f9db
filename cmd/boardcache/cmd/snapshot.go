package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"boardcache/internal/client"
	"boardcache/internal/resource"
)

func newSnapshotCmd(cliCfg *Config) *cobra.Command {
	var (
		jsonOutput bool
		filter     client.SnapshotFilter
		overdue    bool
	)

	cmd := &cobra.Command{
		Use:   "snapshot <resource>",
		Short: "Print the cached records of a resource",
		Long:  "Read the current snapshot from the server, optionally narrowed by status, assignee, due-date window, or overdue flag.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := resource.Parse(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("overdue") {
				filter.Overdue = fmt.Sprintf("%t", overdue)
			}

			c := client.New(serverAddr(cliCfg))
			snap, err := c.Snapshot(cmd.Context(), res, filter)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(snap)
			}

			cmd.Printf("%s snapshot: version %d, fetched %s, %d record(s)\n\n",
				snap.Resource, snap.Version, snap.FetchedAt.Format("2006-01-02 15:04:05"), snap.RecordCount)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer func() { _ = w.Flush() }()
			return printRecords(w, res, snap.Records)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().StringVar(&filter.Status, "status", "", "filter by status")
	cmd.Flags().StringVar(&filter.Assignee, "assignee", "", "filter by assignee or member name")
	cmd.Flags().StringVar(&filter.DueBefore, "due-before", "", "filter by due date before (YYYY-MM-DD)")
	cmd.Flags().StringVar(&filter.DueAfter, "due-after", "", "filter by due date after (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&overdue, "overdue", false, "filter todos by overdue flag")
	return cmd
}

func printRecords(w *tabwriter.Writer, res resource.Type, records []json.RawMessage) error {
	switch res {
	case resource.Projects:
		fmt.Fprintln(w, "NAME\tSTATUS\tHEALTH\tPRIORITY\tASSIGNEES\tTASKS")
		for _, raw := range records {
			var p resource.Project
			if err := json.Unmarshal(raw, &p); err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
				p.Name, p.Status, p.HealthStatus, p.Priority, joinNames(p.Assignees), p.TaskCount)
		}
	case resource.Tasks:
		fmt.Fprintln(w, "NAME\tSTATUS\tPRIORITY\tDUE\tASSIGNEES")
		for _, raw := range records {
			var t resource.Task
			if err := json.Unmarshal(raw, &t); err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				t.Name, t.Status, t.Priority, orDash(t.DueDate), joinNames(t.Assignees))
		}
	case resource.Todos:
		fmt.Fprintln(w, "NAME\tMEMBER\tSTATUS\tDEADLINE\tOVERDUE")
		for _, raw := range records {
			var td resource.Todo
			if err := json.Unmarshal(raw, &td); err != nil {
				return err
			}
			overdue := ""
			if td.Overdue {
				overdue = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				td.Name, td.MemberName, td.Status, orDash(td.Deadline), overdue)
		}
	case resource.Members:
		fmt.Fprintln(w, "NAME\tPOSITION\tSTATUS\tTELEGRAM")
		for _, raw := range records {
			var m resource.Member
			if err := json.Unmarshal(raw, &m); err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Name, m.Position, m.Status, orDash(m.Telegram))
		}
	}
	return nil
}

func joinNames(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	out := names[0]
	for _, n := range names[1:] {
		out += ", " + n
	}
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
