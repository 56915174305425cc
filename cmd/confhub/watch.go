package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/confhub/internal/client"
	"github.com/alfredjeanlab/confhub/internal/events"
	"github.com/alfredjeanlab/confhub/internal/ui"
)

// watchRetryDelay is the pause before reconnecting a dropped stream.
const watchRetryDelay = 2 * time.Second

var watchCmd = &cobra.Command{
	Use:     "watch <namespace>...",
	Short:   "Stream config changes as they are committed",
	GroupID: "system",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		lastID, _ := cmd.Flags().GetString("since")
		once, _ := cmd.Flags().GetBool("once")
		out := cmd.OutOrStdout()

		for {
			err := confClient.Watch(ctx, args, lastID, func(ev client.StreamEvent) error {
				if ev.ID != "" {
					lastID = ev.ID
				}
				return printStreamEvent(out, ev)
			})
			if err != nil {
				return err
			}
			if once || ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(cmd.ErrOrStderr(), ui.RenderWarn("stream closed, reconnecting"))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(watchRetryDelay):
			}
		}
	},
}

// printStreamEvent renders one stream event. Subscribed markers are only
// shown in JSON mode.
func printStreamEvent(w io.Writer, ev client.StreamEvent) error {
	if ev.IsSubscribed() {
		if jsonOutput {
			return printJSON(w, map[string]string{"connection": ev.Connection})
		}
		return nil
	}
	var change events.ChangeEvent
	if err := json.Unmarshal(ev.Data, &change); err != nil {
		return fmt.Errorf("decoding event %s: %w", ev.ID, err)
	}
	if jsonOutput {
		data, err := json.Marshal(change)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	_, err := fmt.Fprintf(w, "%s  %-8s  %s/%s  v%d  %s\n",
		ui.RenderMuted(formatTime(change.ChangedAt)),
		ui.RenderChange(string(change.ChangeType)),
		change.Namespace,
		ui.RenderAccent(change.Key),
		change.Version,
		ui.RenderMuted(shortHash(change.ContentHash)),
	)
	return err
}

func init() {
	watchCmd.Flags().String("since", "", "replay buffered events after this event id")
	watchCmd.Flags().Bool("once", false, "exit when the stream closes instead of reconnecting")
}
