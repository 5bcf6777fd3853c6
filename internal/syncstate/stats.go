package syncstate

import (
	"fmt"
	"math"
	"time"
)

// Remaining-time labels used when no estimate can be computed.
const (
	LabelSchemaMissing = "Schema Missing"
	LabelIdle          = "Idle"
	LabelComplete      = "Complete"
	LabelLiveSync      = "Live Sync"
)

// FleetCounts are the raw fleet-wide counters read from the fact store.
type FleetCounts struct {
	// SchemaReady is false when the track table does not exist yet.
	SchemaReady bool
	Total       int
	Completed   int
	Failed      int
	// TableCounts holds raw row counts for every table that exists.
	TableCounts map[string]int64
}

// AggregateStats is the fleet-wide snapshot served by /stats.
type AggregateStats struct {
	TotalTracks    int              `json:"totalTracks"`
	Pending        int              `json:"pending"`
	Downloading    int              `json:"downloading"`
	Completed      int              `json:"completed"`
	Failed         int              `json:"failed"`
	GlobalProgress int              `json:"globalProgress"`
	RemainingTime  string           `json:"remainingTime"`
	TableCounts    map[string]int64 `json:"tableCounts"`
}

// Transfer summarizes the current in-flight progress snapshot.
type Transfer struct {
	// Active is the number of tracks with a progress entry.
	Active int
	// BytesPerSecond is the aggregate throughput estimate.
	BytesPerSecond float64
	// RemainingBytes is the sum of bytes still to transfer.
	RemainingBytes int64
}

// ComputeStats rolls fleet counters and the in-flight snapshot into one
// AggregateStats. The downloading figure is the progress snapshot size rather
// than a re-resolution of every track, so it can disagree with a strict sum
// over per-track statuses.
func ComputeStats(counts FleetCounts, transfer Transfer) AggregateStats {
	tables := counts.TableCounts
	if tables == nil {
		tables = map[string]int64{}
	}
	if !counts.SchemaReady {
		return AggregateStats{RemainingTime: LabelSchemaMissing, TableCounts: tables}
	}
	total := max(counts.Total, 0)
	completed := max(counts.Completed, 0)
	downloading := max(transfer.Active, 0)
	stats := AggregateStats{
		TotalTracks: total,
		Pending:     max(0, total-completed-downloading),
		Downloading: downloading,
		Completed:   completed,
		Failed:      max(counts.Failed, 0),
		TableCounts: tables,
	}
	if total > 0 {
		stats.GlobalProgress = min(int(math.Round(float64(completed)/float64(total)*100)), 100)
	}
	stats.RemainingTime = remainingLabel(stats, transfer)
	return stats
}

func remainingLabel(stats AggregateStats, transfer Transfer) string {
	switch {
	case stats.TotalTracks == 0:
		return LabelIdle
	case stats.Pending == 0 && stats.Downloading == 0:
		return LabelComplete
	case transfer.BytesPerSecond > 0 && transfer.RemainingBytes > 0:
		secs := float64(transfer.RemainingBytes) / transfer.BytesPerSecond
		return "~" + FormatDuration(time.Duration(secs*float64(time.Second)))
	default:
		return LabelLiveSync
	}
}

// FormatDuration renders a coarse human label such as "45s", "4m" or "2h10m".
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", max(int(d.Round(time.Second)/time.Second), 1))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Round(time.Minute)/time.Minute))
	default:
		d = d.Round(time.Minute)
		h := int(d / time.Hour)
		m := int((d % time.Hour) / time.Minute)
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh%dm", h, m)
	}
}

// FormatBandwidth renders bytes per second as MB/s with one decimal.
func FormatBandwidth(bytesPerSecond float64) string {
	if bytesPerSecond < 0 || math.IsNaN(bytesPerSecond) {
		bytesPerSecond = 0
	}
	return fmt.Sprintf("%.1f MB/s", bytesPerSecond/(1024*1024))
}
