package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/msageha/storebridge/internal/ledger"
	"github.com/msageha/storebridge/internal/model"
)

// writeOutput encodes v as indented JSON, or calls text for the text format.
func writeOutput(w io.Writer, format string, v any, text func(io.Writer)) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func printCycle(w io.Writer, s model.CycleSummary) {
	if !s.FetchOK {
		fmt.Fprintf(w, "cycle %s: queue fetch failed, nothing changed\n", s.CycleID)
		return
	}
	fmt.Fprintf(w, "cycle %s: fetched=%d dispatched=%d deferred=%d ack=%s (%dms)\n",
		s.CycleID, s.Fetched, len(s.Dispatched), len(s.Deferred), s.Ack, s.DurationMS)
	if len(s.Dispatched) > 0 {
		fmt.Fprintf(w, "  dispatched: %s\n", joinIDs(s.Dispatched))
	}
	if len(s.Deferred) > 0 {
		fmt.Fprintf(w, "  deferred:   %s\n", joinIDs(s.Deferred))
	}
	if s.SaveError != "" {
		fmt.Fprintf(w, "  save error: %s\n", s.SaveError)
	}
}

func printPreview(w io.Writer, entries []model.PreviewEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "queue is empty")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPLAYER\tACTION")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", e.ID, dash(e.Target), e.Action)
	}
	tw.Flush()
}

func printHistory(w io.Writer, entries []ledger.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no dispatches recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDISPATCHED\tPLAYER\tPACKAGE\tACK\tCOMMAND")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.CommandID, e.DispatchedAt.Local().Format(time.DateTime), dash(e.Player), dash(e.PackageName), e.Ack, e.Command)
	}
	tw.Flush()
}

func printWaiting(w io.Writer, waiting []ledger.Waiting) {
	if len(waiting) == 0 {
		fmt.Fprintln(w, "nothing is waiting")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPLAYER\tWAITING SINCE")
	for _, e := range waiting {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", e.CommandID, e.Player, e.FirstDeferredAt.Local().Format(time.DateTime))
	}
	tw.Flush()
}

func printTransactions(w io.Writer, txs []model.Transaction) {
	if len(txs) == 0 {
		fmt.Fprintln(w, "no transactions")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tPLAYER\tPACKAGE\tPRICE\tGATEWAY\tSTATUS")
	for _, t := range txs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.2f\t%s\t%s\n",
			t.ID, time.Unix(t.Timestamp, 0).Local().Format(time.DateTime), dash(t.InGameName), t.PackageName, t.Price, t.Gateway, t.Status)
	}
	tw.Flush()
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
