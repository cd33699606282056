package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/urfave/cli/v2"

	"github.com/webitel/im-messaging-service/internal/domain/model"
)

func monitorCmd() *cli.Command {
	return &cli.Command{
		Name:    "monitor",
		Aliases: []string{"m"},
		Usage:   "Live terminal dashboard for a running node",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Base URL of the node's HTTP server",
				Value: "http://127.0.0.1:8085",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Poll interval",
				Value: time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			return runMonitor(c.String("addr"), c.Duration("interval"))
		},
	}
}

func runMonitor(addr string, interval time.Duration) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("init terminal ui: %w", err)
	}
	defer ui.Close()

	header := widgets.NewParagraph()
	header.Title = " im-messaging monitor "
	header.Text = fmt.Sprintf("polling %s every %s  (q to quit)", addr, interval)

	stats := widgets.NewParagraph()
	stats.Title = " node "
	stats.Text = "waiting for first sample..."

	connections := widgets.NewSparkline()
	connections.LineColor = ui.ColorGreen
	connHistory := widgets.NewSparklineGroup(connections)
	connHistory.Title = " connections "

	layout := func() {
		w, _ := ui.TerminalDimensions()
		header.SetRect(0, 0, w, 3)
		stats.SetRect(0, 3, w, 10)
		connHistory.SetRect(0, 10, w, 16)
	}
	layout()

	render := func() { ui.Render(header, stats, connHistory) }

	refresh := func() {
		snap, err := fetchStats(addr)
		if err != nil {
			stats.Text = fmt.Sprintf("unreachable: %v", err)
			render()
			return
		}
		stats.Text = fmt.Sprintf(
			"node:        %s\nusers:       %d\nconnections: %d\nrooms:       %d\nuptime:      %s",
			snap.NodeID, snap.TotalUsers, snap.TotalConnections, snap.TotalRooms,
			snap.Uptime.Round(time.Second))
		connections.Data = append(connections.Data, float64(snap.TotalConnections))
		if len(connections.Data) > 120 {
			connections.Data = connections.Data[len(connections.Data)-120:]
		}
		render()
	}

	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	events := ui.PollEvents()

	for {
		select {
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				layout()
				render()
			}
		case <-ticker.C:
			refresh()
		}
	}
}

func fetchStats(addr string) (*model.HubStats, error) {
	client := http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(addr + "/debug/stats")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	snap := new(model.HubStats)
	if err := json.NewDecoder(resp.Body).Decode(snap); err != nil {
		return nil, err
	}
	return snap, nil
}
