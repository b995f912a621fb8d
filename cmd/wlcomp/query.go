package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"deedles.dev/wlcomp/config"
	"deedles.dev/wlcomp/ipc"
	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/stats"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

const queryTimeout = 5 * time.Second

var (
	colorSubtle  = lipgloss.Color("241")
	colorPrimary = lipgloss.Color("39")
	colorWarn    = lipgloss.Color("214")

	headerStyle = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	warnStyle   = cellStyle.Foreground(colorWarn)
	footerStyle = lipgloss.NewStyle().Foreground(colorSubtle)
)

var outputsCmd = &cobra.Command{
	Use:   "outputs",
	Short: "List the outputs of a running compositor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialControl(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
		defer cancel()
		outs, err := c.Outputs(ctx)
		if err != nil {
			return fmt.Errorf("get outputs: %w", err)
		}

		fmt.Println(outputsTable(outs))
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the frame statistics of a running compositor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialControl(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
		defer cancel()
		snap, err := c.Stats(ctx)
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		fmt.Println(statsTable(snap, time.Now()))
		return nil
	},
}

// controlSocket finds the control socket of the compositor this
// command should talk to. Inside a session started by the compositor
// the environment says where it is.
func controlSocket() (string, error) {
	conf, err := config.Load(v, configPath)
	if err != nil {
		return "", err
	}
	if conf.Debug.IPCSocket != "" {
		return conf.Debug.IPCSocket, nil
	}
	if path, ok := os.LookupEnv(ipc.SocketEnv); ok {
		return path, nil
	}
	display := "wayland-0"
	if d, ok := os.LookupEnv("WAYLAND_DISPLAY"); ok {
		display = filepath.Base(d)
	}
	return ipc.SocketPath(display), nil
}

func dialControl(ctx context.Context) (*ipc.Client, error) {
	path, err := controlSocket()
	if err != nil {
		return nil, err
	}
	c, err := ipc.Dial(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("is the compositor running? %w", err)
	}
	return c, nil
}

func newTable(warn func(row int) bool) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorSubtle)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case (warn != nil) && warn(row):
				return warnStyle
			default:
				return cellStyle
			}
		})
}

func formatRefresh(mhz int) string {
	return strconv.FormatFloat(float64(mhz)/1000, 'f', 2, 64) + " Hz"
}

func outputsTable(outs []stats.Output) string {
	if len(outs) == 0 {
		return footerStyle.Render("No outputs")
	}

	rows := make([][]string, 0, len(outs))
	for _, o := range outs {
		rows = append(rows, []string{
			strconv.FormatUint(o.ID, 10),
			o.Name,
			fmt.Sprintf("%v %v", o.Make, o.Model),
			fmt.Sprintf("%vx%v @ %v", o.Width, o.Height, formatRefresh(o.Refresh)),
			fmt.Sprintf("%v,%v", o.X, o.Y),
			strconv.Itoa(o.Scale),
			o.Transform,
			o.State,
		})
	}

	t := newTable(func(row int) bool { return outs[row].State == output.Faulted.String() }).
		Headers("ID", "NAME", "DEVICE", "MODE", "POSITION", "SCALE", "TRANSFORM", "STATE").
		Rows(rows...)
	return t.String()
}

func formatLatency(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.Round(time.Microsecond).String()
}

func counterRow(name string, c stats.Counters) []string {
	return []string{
		name,
		humanize.Comma(int64(c.Presented)),
		humanize.Comma(int64(c.Dropped)),
		humanize.Comma(int64(c.Skipped)),
		humanize.SI(float64(c.DamageArea), "px"),
		formatLatency(c.Last),
		formatLatency(c.Avg),
	}
}

func statsTable(snap stats.Snapshot, now time.Time) string {
	rows := make([][]string, 0, len(snap.Outputs)+1)
	for _, o := range snap.Outputs {
		rows = append(rows, counterRow(o.Name, o.Counters))
	}
	if len(snap.Outputs) > 1 {
		rows = append(rows, counterRow("total", snap.Totals()))
	}

	t := newTable(func(row int) bool {
		return (row < len(snap.Outputs)) && (snap.Outputs[row].Counters.Dropped > 0)
	}).
		Headers("OUTPUT", "PRESENTED", "DROPPED", "SKIPPED", "DAMAGE", "LAST", "AVERAGE").
		Rows(rows...)

	footer := fmt.Sprintf(
		"Started %v. %v, %v, %v.",
		humanize.Time(now.Add(-snap.Uptime)),
		plural(snap.Clients, "client"),
		plural(snap.Surfaces, "surface"),
		plural(snap.Buffers, "buffer"),
	)
	return t.String() + "\n\n" + footerStyle.Render(footer)
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return humanize.Comma(int64(n)) + " " + word + "s"
}
