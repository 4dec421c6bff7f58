package reconcile

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/grachmannico95/dues-ledger/pkg/money"
)

var (
	oneCent    = money.FromCents(1)
	oneDollar  = money.FromInt(1)
	tenDollars = money.FromInt(10)
)

// Score rates how likely two records describe the same money movement,
// from 0 to 100: up to 50 for amount, 30 for date and 20 for description.
func Score(src SourceRecord, tx LedgerTransaction) int {
	return amountScore(src.Amount.Sub(tx.Amount).Abs()) +
		dateScore(absDays(src.Date, tx.Date)) +
		descriptionScore(src.Description, tx.Description)
}

func amountScore(diff money.Money) int {
	switch {
	case diff.LessThan(oneCent):
		return 50
	case diff.LessThan(oneDollar):
		return 40
	case diff.LessThan(tenDollars):
		return 20
	default:
		return 0
	}
}

func dateScore(days int) int {
	switch {
	case days == 0:
		return 30
	case days <= 3:
		return 20
	case days <= 7:
		return 10
	default:
		return 0
	}
}

// descriptionScore is floor(similarity * 20) computed in integers.
func descriptionScore(a, b string) int {
	longer, dist := distance(a, b)
	if longer == 0 {
		return 20
	}
	return (longer - dist) * 20 / longer
}

// Similarity is the normalized Levenshtein similarity of two descriptions,
// case-insensitive, in [0, 1]. Two empty strings are identical.
func Similarity(a, b string) float64 {
	longer, dist := distance(a, b)
	if longer == 0 {
		return 1
	}
	return float64(longer-dist) / float64(longer)
}

func distance(a, b string) (int, int) {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	longer := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longer {
		longer = n
	}
	if longer == 0 {
		return 0, 0
	}
	return longer, levenshtein.ComputeDistance(a, b)
}

// NormalizeMemberID drops spaces, dashes and leading zeros and lowercases,
// so "M-00123" and "m123" compare equal.
func NormalizeMemberID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	id = strings.NewReplacer(" ", "", "-", "").Replace(id)

	prefix := strings.TrimRight(id, "0123456789")
	digits := strings.TrimLeft(id[len(prefix):], "0")
	if digits == "" && len(id) > len(prefix) {
		digits = "0"
	}
	return prefix + digits
}
