package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chronicle-es/go-chronicle/cli/styles"
	"github.com/chronicle-es/go-chronicle/cli/ui"
)

// NewStreamCommand creates the stream command
func NewStreamCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Inspect event streams",
		Long: `Inspect event streams and their contents.

Examples:
  chronicle stream list               # List all streams
  chronicle stream list -p student-   # Streams in the student category
  chronicle stream events student-42  # Show events for one stream`,
	}

	cmd.AddCommand(newStreamListCommand())
	cmd.AddCommand(newStreamEventsCommand())

	return cmd
}

func newStreamListCommand() *cobra.Command {
	var (
		limit  int
		prefix string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List event streams",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			adapter, err := openAdapter(cfg)
			if err != nil {
				return err
			}
			defer adapter.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			streams, err := adapter.ListStreams(ctx, prefix, limit)
			if err != nil {
				return err
			}

			if len(streams) == 0 {
				fmt.Println(styles.FormatInfo("No streams found"))
				return nil
			}

			fmt.Println()
			fmt.Println(styles.Title.Render(styles.IconStream + " Event Streams"))
			fmt.Println()

			table := ui.NewTable("Stream ID", "Events", "Last Event", "Last Updated")
			for _, s := range streams {
				table.AddRow(
					s.StreamID,
					fmt.Sprintf("%d", s.EventCount),
					s.LastEventType,
					s.LastUpdated.Format("2006-01-02 15:04"),
				)
			}

			fmt.Println(table.Render())
			fmt.Printf("\nShowing %d streams\n", len(streams))

			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum streams to show")
	cmd.Flags().StringVarP(&prefix, "prefix", "p", "", "Filter by stream ID prefix")

	return cmd
}

func newStreamEventsCommand() *cobra.Command {
	var (
		fromVersion int64
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "events <stream-id>",
		Short: "Show the events of a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			streamID := args[0]

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			adapter, err := openAdapter(cfg)
			if err != nil {
				return err
			}
			defer adapter.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			events, err := adapter.ReadStream(ctx, streamID, fromVersion)
			if err != nil {
				return err
			}

			if asJSON {
				out := make([]map[string]interface{}, 0, len(events))
				for _, e := range events {
					out = append(out, map[string]interface{}{
						"id":              e.ID,
						"stream_id":       e.StreamID,
						"type":            e.Type,
						"version":         e.Version,
						"global_sequence": e.GlobalSequence,
						"timestamp":       e.Timestamp,
						"data":            json.RawMessage(e.Data),
					})
				}
				encoded, err := json.MarshalIndent(out, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(encoded))
				return nil
			}

			fmt.Println()
			fmt.Println(styles.Title.Render(styles.IconStream + " " + streamID))
			fmt.Println()

			table := ui.NewTable("Version", "Type", "Sequence", "Timestamp")
			for _, e := range events {
				table.AddRow(
					fmt.Sprintf("%d", e.Version),
					e.Type,
					fmt.Sprintf("%d", e.GlobalSequence),
					e.Timestamp.Format(time.RFC3339),
				)
			}

			fmt.Println(table.Render())
			fmt.Printf("\n%d events\n", len(events))

			return nil
		},
	}

	cmd.Flags().Int64Var(&fromVersion, "from", 0, "Start from this stream version")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON including payloads")

	return cmd
}
