package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/blacknred/mbroker/internal/broker"
	"github.com/blacknred/mbroker/internal/config"
	"github.com/spf13/cobra"
)

var adminHTTPClient = &http.Client{Timeout: 10 * time.Second}

// createTopicRequest is the admin API's POST /v1/topics body. Config is
// optional; an omitted one falls back to the server's configured
// DefaultTopic.
type createTopicRequest struct {
	Name   string              `json:"name"`
	Config *config.TopicConfig `json:"config,omitempty"`
}

// newAdminMux wires the small admin surface serve exposes for topic
// management and dlq replay: no routing library, just prefix matching, the
// way the teacher's own daemon.go wires a handful of bespoke endpoints
// directly rather than reaching for a router for four routes.
func newAdminMux(reg *broker.TopicRegistry) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/topics", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, reg.Topics())
		case http.MethodPost:
			var req createTopicRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeErr(w, fmt.Errorf("decode request: %w", err))
				return
			}
			cfg := config.DefaultTopicConfig()
			if req.Config != nil {
				cfg = req.Config
			}
			if _, err := reg.CreateTopic(req.Name, *cfg); err != nil {
				writeErr(w, err)
				return
			}
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/v1/topics/", func(w http.ResponseWriter, r *http.Request) {
		rest, _ := pathSuffix(r, "/v1/topics/")
		name, sub, _ := cutFirst(rest)

		switch {
		case sub == "" && r.Method == http.MethodDelete:
			if err := reg.DeleteTopic(name); err != nil {
				writeErr(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case sub == "stats" && r.Method == http.MethodGet:
			topic, ok := reg.Topic(name)
			if !ok {
				writeErr(w, fmt.Errorf("topic %q not found", name))
				return
			}
			writeJSON(w, topic.Metrics().Snapshot())
		case sub == "dlq/replay" && r.Method == http.MethodPost:
			topic, ok := reg.Topic(name)
			if !ok {
				writeErr(w, fmt.Errorf("topic %q not found", name))
				return
			}
			handleDlqReplay(w, topic)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	return mux
}

func cutFirst(path string) (head, tail string, ok bool) {
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			return path[:i], path[i+1:], true
		}
	}
	return path, "", false
}

func topicsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Manage topics on a running serve instance",
	}
	cmd.AddCommand(topicsListCmd(), topicsCreateCmd(), topicsDeleteCmd(), topicsStatsCmd())
	return cmd
}

func topicsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := adminHTTPClient.Get(adminURL("/v1/topics"))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return apiError(resp)
			}
			var names []string
			if err := json.NewDecoder(resp.Body).Decode(&names); err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TOPIC")
			for _, name := range names {
				fmt.Fprintln(w, name)
			}
			return w.Flush()
		},
	}
}

func topicsCreateCmd() *cobra.Command {
	var (
		ackTimeoutMs        int64
		maxDeliveryAttempts int
		maxSizeBytes        int64
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := createTopicRequest{Name: args[0]}
			if cmd.Flags().Changed("ack-timeout-ms") || cmd.Flags().Changed("max-delivery-attempts") || cmd.Flags().Changed("max-size-bytes") {
				cfg := config.DefaultTopicConfig()
				if cmd.Flags().Changed("ack-timeout-ms") {
					cfg.AckTimeoutMs = ackTimeoutMs
				}
				if cmd.Flags().Changed("max-delivery-attempts") {
					cfg.MaxDeliveryAttempts = maxDeliveryAttempts
				}
				if cmd.Flags().Changed("max-size-bytes") {
					cfg.MaxSizeBytes = maxSizeBytes
				}
				req.Config = cfg
			}

			body, err := json.Marshal(req)
			if err != nil {
				return err
			}
			resp, err := adminHTTPClient.Post(adminURL("/v1/topics"), "application/json", bytes.NewReader(body))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusCreated {
				return apiError(resp)
			}
			fmt.Printf("topic %q created\n", args[0])
			return nil
		},
	}

	cmd.Flags().Int64Var(&ackTimeoutMs, "ack-timeout-ms", 0, "Ack timeout override (milliseconds)")
	cmd.Flags().IntVar(&maxDeliveryAttempts, "max-delivery-attempts", 0, "Max delivery attempts override")
	cmd.Flags().Int64Var(&maxSizeBytes, "max-size-bytes", 0, "Cumulative size cap override (bytes)")
	return cmd
}

func topicsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <name>",
		Aliases: []string{"rm"},
		Short:   "Delete a topic",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequest(http.MethodDelete, adminURL("/v1/topics/"+args[0]), nil)
			if err != nil {
				return err
			}
			resp, err := adminHTTPClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusNoContent {
				return apiError(resp)
			}
			fmt.Printf("topic %q deleted\n", args[0])
			return nil
		},
	}
}

func topicsStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <name>",
		Short: "Show a topic's metrics snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := adminHTTPClient.Get(adminURL("/v1/topics/" + args[0] + "/stats"))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return apiError(resp)
			}
			var snapshot map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
				return err
			}
			out, err := json.MarshalIndent(snapshot, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("admin API returned %s: %s", resp.Status, string(body))
}
