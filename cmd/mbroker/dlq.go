package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/blacknred/mbroker/internal/broker"
	"github.com/blacknred/mbroker/internal/message"
	"github.com/spf13/cobra"
)

// dlqReplayEntry is one replayed dead-letter entry as reported back through
// the admin API, since the in-process payload/Metadata pair isn't portable
// across the wire.
type dlqReplayEntry struct {
	ID            uint64 `json:"id"`
	Payload       any    `json:"payload"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// handleDlqReplay drains topic's dead-letter queue through a short-lived
// DLQConsumer and reports every replayed entry.
func handleDlqReplay(w http.ResponseWriter, topic *broker.Topic) {
	consumer := topic.CreateDLQConsumer()
	defer consumer.Close()

	entries := make([]dlqReplayEntry, 0)
	_, err := consumer.Replay(func(payload any, meta *message.Metadata) error {
		entries = append(entries, dlqReplayEntry{
			ID:            meta.ID,
			Payload:       payload,
			CorrelationID: meta.CorrelationID,
		})
		return nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, entries)
}

func dlqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay a topic's dead-letter queue",
	}
	cmd.AddCommand(dlqReplayCmd())
	return cmd
}

func dlqReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <topic>",
		Short: "Drain and print a topic's dead-letter queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := adminHTTPClient.Post(adminURL("/v1/topics/"+args[0]+"/dlq/replay"), "application/json", nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return apiError(resp)
			}
			var entries []dlqReplayEntry
			if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
				return err
			}
			fmt.Printf("replayed %d dead-lettered message(s)\n", len(entries))
			for _, e := range entries {
				fmt.Printf("  id=%d correlation_id=%q payload=%v\n", e.ID, e.CorrelationID, e.Payload)
			}
			return nil
		},
	}
}
