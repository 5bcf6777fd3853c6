package client

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/JakeFAU/syncboard/internal/syncstate"
)

const maxRenderedLogs = 5

// TextRenderer writes both views as plain text tables.
type TextRenderer struct {
	mu  sync.Mutex
	out io.Writer
	// Clear is written before every frame, e.g. an ANSI clear-screen sequence.
	Clear string
}

// NewTextRenderer renders to out.
func NewTextRenderer(out io.Writer) *TextRenderer {
	return &TextRenderer{out: out}
}

// Render writes one frame.
func (r *TextRenderer) Render(view View) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	b.WriteString(r.Clear)
	if view.State == StateReady {
		renderReady(&b, view)
	} else {
		renderBooting(&b, view)
	}
	if _, err := io.WriteString(r.out, b.String()); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func renderBooting(b *strings.Builder, view View) {
	snap := view.Health
	fmt.Fprintf(b, "syncboard  %s", view.State)
	if snap.TargetURL != "" {
		fmt.Fprintf(b, "  %s", snap.TargetURL)
	}
	b.WriteString("\n\n")

	tw := tabwriter.NewWriter(b, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "API\t%s\n", orDash(snap.API))
	fmt.Fprintf(tw, "DB\t%s\n", orDash(snap.DB))
	fmt.Fprintf(tw, "CACHE\t%s\n", orDash(snap.Cache))
	if snap.Telemetry != "" {
		fmt.Fprintf(tw, "TELEMETRY\t%s\n", snap.Telemetry)
	}
	tables := make([]string, 0, len(snap.Tables))
	for name := range snap.Tables {
		tables = append(tables, name)
	}
	slices.Sort(tables)
	for _, name := range tables {
		state := "missing"
		if snap.Tables[name] {
			state = "ok"
		}
		fmt.Fprintf(tw, "  %s\t%s\n", name, state)
	}
	_ = tw.Flush()

	if view.Error != "" {
		fmt.Fprintf(b, "\nerror: %s\n", view.Error)
	}
	if view.InFlight {
		b.WriteString("\nchecking...\n")
	} else {
		b.WriteString("\npress r and enter to retry\n")
	}
}

func renderReady(b *strings.Builder, view View) {
	vm := view.Model
	st := vm.Stats
	fmt.Fprintf(b, "syncboard  %s  %d%% complete  %s\n", view.State, st.GlobalProgress, st.RemainingTime)
	fmt.Fprintf(b, "total %d  pending %d  downloading %d  completed %d  failed %d\n",
		st.TotalTracks, st.Pending, st.Downloading, st.Completed, st.Failed)
	net := vm.Network
	fmt.Fprintf(b, "network %s  %s@%s  latency %s  %s\n\n",
		net.Status, net.User, net.Node, net.Latency, net.TotalBandwidth)

	if vm.Playlist != nil {
		pl := vm.Playlist
		fmt.Fprintf(b, "%s  %d tracks  %s  synced %s\n", pl.Name, pl.TrackCount, pl.Quality, pl.LastSynced)
		tw := tabwriter.NewWriter(b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE\tARTIST\tSTATUS\tPROGRESS\tCANDIDATES\tSCORE")
		for _, t := range pl.Tracks {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
				t.ID, t.Title, t.Artist, t.Status, progressBar(t.Progress), t.CandidatesCount, score(t))
		}
		_ = tw.Flush()
	}

	if len(vm.Logs) > 0 {
		b.WriteString("\nrecent activity\n")
		for _, entry := range vm.Logs[:min(len(vm.Logs), maxRenderedLogs)] {
			fmt.Fprintf(b, "  %s  %-5s  %s\n",
				entry.Time().Local().Format(time.TimeOnly), entry.Level, entry.Message)
		}
	}
	if view.Error != "" {
		fmt.Fprintf(b, "\nerror: %s\n", view.Error)
	}
}

func progressBar(pct int) string {
	pct = min(max(pct, 0), 100)
	filled := pct / 10
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", 10-filled) + fmt.Sprintf("] %3d%%", pct)
}

func score(t syncstate.Track) string {
	if t.Score == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *t.Score)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
