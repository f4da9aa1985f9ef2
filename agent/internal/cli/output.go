package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/pilot-net/netcheck/agent/internal/diag"
	"github.com/pilot-net/netcheck/agent/internal/hopstats"
	"github.com/pilot-net/netcheck/pkg/types"
)

var (
	passColor = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// statusWord colors a PASS/WARN/FAIL status, padded to a fixed width.
func statusWord(s types.Status) string {
	word := fmt.Sprintf("%-4s", s)
	switch s {
	case types.StatusPass:
		return passColor.Sprint(word)
	case types.StatusWarn:
		return warnColor.Sprint(word)
	case types.StatusFail:
		return failColor.Sprint(word)
	}
	return word
}

func ms(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func printEntry(w io.Writer, e types.TestResultLog) {
	fmt.Fprintf(w, "%s  %s  %-6s  %-22s  %s\n",
		dimColor.Sprint(e.Timestamp.Local().Format("15:04:05")),
		statusWord(e.Status),
		e.Kind,
		e.Target,
		e.Details)
}

func printSummary(w io.Writer, s types.Summary) {
	fmt.Fprintf(w, "%s %d  %s %d  %s %d  (%d checks)\n",
		passColor.Sprint("PASS"), s.Pass,
		warnColor.Sprint("WARN"), s.Warn,
		failColor.Sprint("FAIL"), s.Fail,
		s.Total())
}

func printOutcome(w io.Writer, snap diag.Snapshot) {
	fmt.Fprintln(w)
	printSummary(w, snap.Summary)
	if snap.Outcome == diag.StateFailed {
		fmt.Fprintln(w, failColor.Sprint("Diagnostic run aborted."))
	}
	if g := snap.Gauges; g.LatencyMs != nil {
		fmt.Fprintf(w, "Latency %sms", ms(*g.LatencyMs))
		if g.JitterMs != nil {
			fmt.Fprintf(w, "  Jitter %sms", ms(*g.JitterMs))
		}
		if g.LossPercent != nil {
			fmt.Fprintf(w, "  Loss %s%%", ms(*g.LossPercent))
		}
		fmt.Fprintln(w)
	}
}

func printReport(w io.Writer, r types.SavedReport) {
	fmt.Fprintf(w, "Report %s\n", r.ID)
	fmt.Fprintf(w, "Profile: %s\n", r.ProfileName)
	fmt.Fprintf(w, "Time:    %s\n\n", r.Timestamp.Local().Format("2006-01-02 15:04:05"))
	for _, e := range r.Logs {
		printEntry(w, e)
	}
	fmt.Fprintln(w)
	printSummary(w, r.Summary)
}

func printReportList(w io.Writer, reports []types.SavedReport) {
	if len(reports) == 0 {
		fmt.Fprintln(w, "No saved reports.")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tTIME\tPROFILE\tPASS\tWARN\tFAIL")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n",
			r.ID,
			r.Timestamp.Local().Format("2006-01-02 15:04"),
			r.ProfileName,
			r.Summary.Pass, r.Summary.Warn, r.Summary.Fail)
	}
	tw.Flush()
}

func printProfiles(w io.Writer, profiles []types.VendorProfile) {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tTARGETS\tCHECKS")
	for _, p := range profiles {
		var checks []string
		if p.ALGTestEnabled {
			checks = append(checks, "nat")
		}
		if p.LANIsolationCheck {
			checks = append(checks, "isolation")
		}
		if p.MTUCheck {
			checks = append(checks, "mtu")
		}
		if len(checks) == 0 {
			checks = []string{"-"}
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", p.ID, p.Name, len(p.ConnectivityTargets), strings.Join(checks, ","))
	}
	tw.Flush()
}

func printHops(w io.Writer, snap hopstats.Snapshot) {
	fmt.Fprintf(w, "Trace to %s (%d refreshes)\n", snap.Host, snap.Ticks)
	tw := newTable(w)
	fmt.Fprintln(tw, "HOP\tADDRESS\tLOSS%\tSENT\tRECV\tLAST\tAVG\tBEST\tWORST\tLOCATION")
	for _, h := range snap.Hops {
		best := "-"
		if h.Best != nil {
			best = ms(*h.Best)
		}
		loss := ms(h.LossPct)
		switch {
		case h.LossPct >= 50:
			loss = failColor.Sprint(loss)
		case h.LossPct > 0:
			loss = warnColor.Sprint(loss)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\t%s\t%s\t%s\t%s\n",
			h.Hop, h.IP, loss, h.Sent, h.Received(),
			ms(h.Last), ms(h.Avg), best, ms(h.Worst),
			location(snap.Geo[h.IP]))
	}
	tw.Flush()
	if snap.Error != "" {
		fmt.Fprintln(w, failColor.Sprint(snap.Error))
	}
}

func location(g types.GeoInfo) string {
	var parts []string
	for _, p := range []string{g.City, g.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}
