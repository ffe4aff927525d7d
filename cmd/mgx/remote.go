package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

func apiClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func newApproveCmd() *cobra.Command {
	var (
		serverURL string
		feedback  string
		reject    bool
	)
	cmd := &cobra.Command{
		Use:   "approve <run-id>",
		Short: "Resolve a run's open approval gate on a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]any{"approved": !reject, "feedback": feedback})
			if err != nil {
				return err
			}
			return postAPI(cmd.OutOrStdout(), serverURL+"/runs/"+args[0]+"/approval", body)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServer, "server base URL")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject instead of approve")
	cmd.Flags().StringVar(&feedback, "feedback", "", "feedback to record with the decision")
	return cmd
}

func newCancelCmd() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Request cancellation of a live run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAPI(cmd.OutOrStdout(), serverURL+"/runs/"+args[0]+"/cancel", []byte("{}"))
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServer, "server base URL")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var (
		serverURL string
		task      bool
	)
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show a run (or, with --task, a task) from a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/runs/"
			if task {
				path = "/tasks/"
			}
			return getAPI(cmd.OutOrStdout(), serverURL+path+args[0])
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServer, "server base URL")
	cmd.Flags().BoolVar(&task, "task", false, "look up a task id instead of a run id")
	return cmd
}

func postAPI(out io.Writer, url string, body []byte) error {
	resp, err := apiClient().Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(raw))
	}
	fmt.Fprintln(out, string(bytes.TrimSpace(raw)))
	return nil
}

func getAPI(out io.Writer, url string) error {
	resp, err := apiClient().Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(raw))
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(raw), "", "  "); err != nil {
		buf.Write(raw)
	}
	fmt.Fprintln(out, buf.String())
	return nil
}
