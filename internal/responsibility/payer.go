package responsibility

import (
	"regexp"
	"strings"
)

// DefaultMedicaidIndicators are the plan-name fragments that mark Medicaid coverage.
var DefaultMedicaidIndicators = []string{"MCD", "MEDICAID", "HEALTH FIRST MEDICAID"}

// MedicaidMatcher matches plan and carrier names against indicator substrings,
// case-insensitively.
type MedicaidMatcher struct {
	indicators []string
}

// NewMedicaidMatcher builds a matcher; an empty list uses the defaults.
func NewMedicaidMatcher(indicators []string) MedicaidMatcher {
	var normalized []string
	for _, ind := range indicators {
		if ind = strings.ToUpper(strings.TrimSpace(ind)); ind != "" {
			normalized = append(normalized, ind)
		}
	}
	if len(normalized) == 0 {
		for _, ind := range DefaultMedicaidIndicators {
			normalized = append(normalized, strings.ToUpper(ind))
		}
	}
	return MedicaidMatcher{indicators: normalized}
}

// Match reports whether any of the names contains an indicator.
func (m MedicaidMatcher) Match(names ...string) bool {
	for _, name := range names {
		upper := strings.ToUpper(name)
		if upper == "" {
			continue
		}
		for _, ind := range m.indicators {
			if strings.Contains(upper, ind) {
				return true
			}
		}
	}
	return false
}

// PayerType is the broad payer category used in memo wording.
type PayerType string

const (
	PayerMedicaid          PayerType = "Medicaid"
	PayerSelfPay           PayerType = "Self-Pay"
	PayerMedicareAdvantage PayerType = "Medicare Advantage"
	PayerCommercial        PayerType = "Commercial"
)

// ClassifyPayer buckets a carrier by code and name.
func ClassifyPayer(m MedicaidMatcher, carrierCode, carrierName string) PayerType {
	if m.Match(carrierCode, carrierName) {
		return PayerMedicaid
	}
	upper := strings.ToUpper(carrierName)
	if strings.Contains(upper, "SELF") || strings.Contains(upper, "CASH") {
		return PayerSelfPay
	}
	if IsMedicareAdvantage(carrierName) {
		return PayerMedicareAdvantage
	}
	return PayerCommercial
}

var (
	maStrongIndicators = []string{
		"medicare advantage", "part c", "ma-pd", "mapd",
		"medicare advantage prescription drug",
		"dual special needs plan", "dual complete", "d-snp", "dsnp",
		"chronic condition special needs", "c-snp", "csnp",
		"institutional special needs", "i-snp", "isnp",
	}
	maWithMedicare = []string{
		"hmo", "ppo", "pffs", "msa",
		"complete", "choice", "gold plus", "prime", "select", "plus", "complete care",
		"senior advantage",
	}
	maBrands = []string{
		"aetna medicare", "humana", "humana gold plus", "humanachoice",
		"aarp medicare advantage", "unitedhealthcare medicare", "uhc medicare",
		"blue cross medicare advantage", "bcbstx medicare advantage",
		"kelseycare advantage", "cigna true choice", "cigna preferred",
		"wellcare medicare", "allwell",
		"scott and white medicare", "baylor scott & white medicare",
		"superior healthplan medicare",
		"anthem mediblue", "anthem medicare advantage",
		"kaiser permanente senior advantage",
		"denver health elevate medicare", "elevate medicare advantage",
		"rocky mountain health plans medicare", "rmhp medicare",
	}
	maContractID = regexp.MustCompile(`\bh\d{4}-\d{3}\b`)
)

// IsMedicareAdvantage applies the plan-name rules for Medicare Advantage:
// strong indicators, an H####-### contract id, "medicare" with a plan
// keyword, or a known regional brand.
func IsMedicareAdvantage(carrierName string) bool {
	name := strings.ToLower(carrierName)
	if containsAny(name, maStrongIndicators) {
		return true
	}
	if maContractID.MatchString(name) {
		return true
	}
	if strings.Contains(name, "medicare") && containsAny(name, maWithMedicare) {
		return true
	}
	return containsAny(name, maBrands)
}

// payerAbbreviations is ordered; the first contained name wins.
var payerAbbreviations = []struct {
	name   string
	abbrev string
}{
	{"UNITED HEALTHCARE", "UHC"},
	{"BLUE CROSS BLUE SHIELD", "BCBS"},
	{"ANTHEM", "ANTHEM"},
	{"AETNA", "AETNA"},
	{"BRAVO CIGNA", "CIGNA"},
	{"CIGNA", "CIGNA"},
	{"HUMANA", "HUMANA"},
	{"KAISER", "KAISER"},
	{"HEALTH FIRST MEDICAID", "MEDICAID"},
	{"MEDICAID", "MEDICAID"},
	{"MEDICARE", "MEDICARE"},
	{"COLORADO COMMUNITY HEALTH ALLIANCE", "CCHA"},
	{"COLORADO ACCESS", "CO ACCESS"},
	{"CITY OF AURORA", "AURORA"},
	{"AARP", "AARP"},
}

// PayerAbbreviation shortens a carrier name for the memo, falling back to
// its first eight characters.
func PayerAbbreviation(carrierName string) string {
	upper := strings.ToUpper(strings.TrimSpace(carrierName))
	if upper == "" {
		return "UNKNOWN"
	}
	for _, p := range payerAbbreviations {
		if strings.Contains(upper, p.name) {
			return p.abbrev
		}
	}
	return strings.TrimSpace(truncateRunes(upper, 8))
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
