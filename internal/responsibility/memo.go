package responsibility

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// MaxMemoLength is the longest memo, in characters, the PM memo field displays in full.
const MaxMemoLength = 50

// FormatCents renders cents as dollars, e.g. 2500 -> "$25.00".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

// FormatMemo builds the compact memo, e.g. "UHC PR SPR: $25.00 copay".
// Detail text is dropped, then the payer shortened, to stay within MaxMemoLength.
func FormatMemo(payerAbbrev, serviceAbbrev string, r Result) string {
	payer := strings.TrimSpace(payerAbbrev)
	if payer == "" {
		payer = "UNKNOWN"
	}
	service := strings.TrimSpace(serviceAbbrev)
	if service == "" {
		service = "NA"
	}

	amount := FormatCents(r.AmountCents)
	detail := basisDetail(r)

	memo := strings.TrimSpace(fmt.Sprintf("%s PR %s: %s %s", payer, service, amount, detail))
	if utf8.RuneCountInString(memo) <= MaxMemoLength {
		return memo
	}
	memo = fmt.Sprintf("%s PR %s: %s", payer, service, amount)
	overflow := utf8.RuneCountInString(memo) - MaxMemoLength
	if overflow <= 0 {
		return memo
	}
	room := utf8.RuneCountInString(payer) - overflow
	if room < 1 {
		room = 1
	}
	payer = truncateRunes(payer, room)
	return truncateRunes(fmt.Sprintf("%s PR %s: %s", payer, service, amount), MaxMemoLength)
}

// truncateRunes keeps at most n characters of s without splitting one.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func basisDetail(r Result) string {
	switch r.Basis {
	case BasisMedicaid:
		return "Medicaid"
	case BasisCopay:
		return "copay"
	case BasisCoinsurance:
		return fmt.Sprintf("%s%% coins", trimPercent(r.CoinsuranceRate*100))
	default:
		return ""
	}
}

func trimPercent(p float64) string {
	if p == math.Trunc(p) {
		return fmt.Sprintf("%.0f", p)
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", p), "0"), ".")
}
