package reconcile

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// GenerateReport renders a plain-text reconciliation report.
func GenerateReport(r *Result) string {
	var b strings.Builder

	b.WriteString("=== RECONCILIATION REPORT ===\n")
	fmt.Fprintf(&b, "Reconciliation ID: %s\n", r.ID)
	fmt.Fprintf(&b, "Generated: %s\n\n", r.GeneratedAt.Format("2006-01-02 15:04:05 MST"))

	s := r.Summary
	b.WriteString("SUMMARY\n")
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  Source records:\t%d\t(total %s)\n", s.SourceCount, s.TotalSourceAmount)
	fmt.Fprintf(w, "  Ledger transactions:\t%d\t(total %s)\n", s.LedgerCount, s.TotalLedgerAmount)
	fmt.Fprintf(w, "  Matched:\t%d\t(exact %d, fuzzy %d)\n", s.MatchedCount, s.ExactMatches, s.FuzzyMatches)
	fmt.Fprintf(w, "  Unmatched source:\t%d\t\n", s.UnmatchedSourceCount)
	fmt.Fprintf(w, "  Unmatched ledger:\t%d\t\n", s.UnmatchedLedgerCount)
	fmt.Fprintf(w, "  Net variance:\t%s\t\n", s.NetVariance)
	fmt.Fprintf(w, "  Auto-match rate:\t%s%%\t\n", s.AutoMatchRate.StringFixed(2))
	w.Flush()

	b.WriteString("\nVARIANCES\n")
	if len(r.Variances) == 0 {
		b.WriteString("  none\n")
	}
	for _, v := range r.Variances {
		fmt.Fprintf(&b, "  [%s] %s: expected %s, actual %s, difference %s",
			v.Type, varianceRef(v), v.Expected, v.Actual, v.Difference)
		if !v.Percentage.IsZero() {
			fmt.Fprintf(&b, " (%s%%)", v.Percentage.StringFixed(2))
		}
		fmt.Fprintf(&b, " - %s\n", v.Description)
	}

	b.WriteString("\nMATCHES\n")
	if len(r.Matches) == 0 {
		b.WriteString("  none\n")
	}
	w = tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	for _, m := range r.Matches {
		status := "needs review"
		if m.IsConfirmed {
			status = "confirmed"
		}
		fmt.Fprintf(w, "  %s\t-> %s\t%s\tscore %d\t%s\n",
			m.SourceRecordID, m.LedgerTransactionID, m.MatchType, m.MatchScore, status)
	}
	w.Flush()

	b.WriteString("\n=== END OF REPORT ===\n")
	return b.String()
}

func varianceRef(v Variance) string {
	switch {
	case v.SourceRecordID != "" && v.LedgerTransactionID != "":
		return v.SourceRecordID + " / " + v.LedgerTransactionID
	case v.SourceRecordID != "":
		return v.SourceRecordID
	default:
		return v.LedgerTransactionID
	}
}
