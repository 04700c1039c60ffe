// cmd/cli/main.go follows one guild's playback through the status API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/keshon/melodeck/internal/music/status"
	"github.com/spf13/cobra"
	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var (
	apiAddr string
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:          "cli",
	Short:        "Inspect melodeck playback sessions",
	SilenceUsage: true,
}

var tailCmd = &cobra.Command{
	Use:   "tail <guild-id>",
	Short: "Print status events as they happen",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		err := tail(ctx, apiAddr, args[0], cmd.OutOrStdout())
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <guild-id>",
	Short: "Show the current session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printSnapshot(cmd.Context(), apiAddr, args[0], cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&apiAddr, "addr", "a", "http://localhost:8788", "status API base URL")
	statusCmd.Flags().BoolVarP(&jsonOut, "json", "j", false, "output as JSON")
	rootCmd.AddCommand(tailCmd, statusCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func streamURL(base, tenantID string) string {
	base = strings.TrimSuffix(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/tenants/" + tenantID + "/events/ws"
}

func tail(ctx context.Context, base, tenantID string, out io.Writer) error {
	conn, _, err := ws.Dial(ctx, streamURL(base, tenantID), nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.CloseNow()

	for {
		var ev status.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if ws.CloseStatus(err) == ws.StatusGoingAway {
				return nil
			}
			return err
		}
		fmt.Fprintln(out, describe(ev, time.Now()))
	}
}

func printSnapshot(ctx context.Context, base, tenantID string, out io.Writer) error {
	url := strings.TrimSuffix(base, "/") + "/tenants/" + tenantID + "/snapshot"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch snapshot: %s", resp.Status)
	}

	var body struct {
		Active   bool            `json:"active"`
		Snapshot status.Snapshot `json:"snapshot"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(body)
	}
	if !body.Active {
		fmt.Fprintln(out, "no active session")
		return nil
	}
	fmt.Fprintln(out, summary(body.Snapshot, time.Now()))
	return nil
}

func summary(snap status.Snapshot, now time.Time) string {
	line := string(snap.State)
	if snap.Current != nil {
		line += " | " + snap.Current.DisplayTitle()
	}
	line += fmt.Sprintf(" | vol %d%% queue %d", snap.Volume, len(snap.Queue))
	if snap.Timeout != nil {
		line += " | timeout " + snap.Timeout.Action + " " + humanize.RelTime(snap.Timeout.DeadlineAt, now, "ago", "from now")
	}
	return line
}

func describe(ev status.Event, now time.Time) string {
	return fmt.Sprintf("#%d %s %s | %s", ev.Seq, humanize.RelTime(ev.At, now, "ago", "from now"), ev.Kind, summary(ev.Snapshot, now))
}
