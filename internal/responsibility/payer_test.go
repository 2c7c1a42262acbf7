package responsibility

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestMedicaidMatcher(t *testing.T) {
	m := NewMedicaidMatcher(nil)
	assert.True(t, m.Match("Health First Medicaid"))
	assert.True(t, m.Match("", "mcd"))
	assert.True(t, m.Match("Colorado medicaid - RAE 3"))
	assert.False(t, m.Match("United Healthcare", "UHC"))
	assert.False(t, m.Match())

	custom := NewMedicaidMatcher([]string{" state plan ", ""})
	assert.True(t, custom.Match("Texas State Plan"))
	assert.False(t, custom.Match("Medicaid"))
}

func TestClassifyPayer(t *testing.T) {
	m := NewMedicaidMatcher(nil)
	tests := []struct {
		code, name string
		want       PayerType
	}{
		{"MCD", "Colorado Access", PayerMedicaid},
		{"", "Self Pay", PayerSelfPay},
		{"", "CASH PATIENT", PayerSelfPay},
		{"HUM", "Humana Gold Plus", PayerMedicareAdvantage},
		{"UHC", "AARP Medicare Advantage Choice", PayerMedicareAdvantage},
		{"", "Wellness Plan H1234-001", PayerMedicareAdvantage},
		{"", "Medicare PPO", PayerMedicareAdvantage},
		{"", "Medicare Supplement Plan G", PayerCommercial},
		{"UHC", "United Healthcare", PayerCommercial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyPayer(m, tt.code, tt.name))
		})
	}
}

func TestPayerAbbreviation(t *testing.T) {
	assert.Equal(t, "UHC", PayerAbbreviation("United Healthcare Choice Plus"))
	assert.Equal(t, "MEDICAID", PayerAbbreviation("Health First Medicaid"))
	assert.Equal(t, "CIGNA", PayerAbbreviation("Bravo Cigna"))
	assert.Equal(t, "CO ACCESS", PayerAbbreviation("Colorado Access"))
	assert.Equal(t, "FRIDAY H", PayerAbbreviation("Friday Health Plans"))
	assert.Equal(t, "TRICARE", PayerAbbreviation("tricare"))
	assert.Equal(t, "UNKNOWN", PayerAbbreviation("  "))
}

func TestFormatMemo(t *testing.T) {
	tests := []struct {
		name    string
		payer   string
		service string
		result  Result
		want    string
	}{
		{"copay", "UHC", "SPR", Result{AmountCents: 2500, Basis: BasisCopay}, "UHC PR SPR: $25.00 copay"},
		{"coinsurance", "AETNA", "KAP", Result{AmountCents: 8000, Basis: BasisCoinsurance, CoinsuranceRate: 0.2}, "AETNA PR KAP: $80.00 20% coins"},
		{"fractional coinsurance", "AETNA", "IM", Result{AmountCents: 5000, Basis: BasisCoinsurance, CoinsuranceRate: 0.125}, "AETNA PR IM: $50.00 12.5% coins"},
		{"medicaid", "MEDICAID", "MM", Result{Basis: BasisMedicaid}, "MEDICAID PR MM: $0.00 Medicaid"},
		{"missing service", "UHC", "", Result{AmountCents: 100, Basis: BasisCopay}, "UHC PR NA: $1.00 copay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatMemo(tt.payer, tt.service, tt.result))
		})
	}
}

func TestFormatMemo_StaysWithinLimit(t *testing.T) {
	payer := strings.Repeat("X", 60)
	memo := FormatMemo(payer, "SPR", Result{AmountCents: 123456789, Basis: BasisCoinsurance, CoinsuranceRate: 0.2})
	assert.LessOrEqual(t, len(memo), MaxMemoLength)
	assert.Contains(t, memo, "PR SPR: $1234567.89")

	memo = FormatMemo("BCBS", "Med Mgmt Extended Label", Result{AmountCents: 4000, Basis: BasisCopay})
	assert.LessOrEqual(t, len(memo), MaxMemoLength)
}

func TestFormatMemo_TruncatesMultiByteByCharacter(t *testing.T) {
	payer := strings.Repeat("É", 60)
	memo := FormatMemo(payer, "SPR", Result{AmountCents: 2500, Basis: BasisCopay})
	assert.True(t, utf8.ValidString(memo), "memo must stay valid UTF-8: %q", memo)
	assert.Equal(t, MaxMemoLength, utf8.RuneCountInString(memo))
	assert.True(t, strings.HasSuffix(memo, " PR SPR: $25.00"), memo)

	assert.Equal(t, "ÉÉÉÉÉÉÉÉ", PayerAbbreviation(strings.Repeat("é", 12)))
	assert.Equal(t, "ZÜRICH V", PayerAbbreviation("Zürich Versicherung"))
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "$0.00", FormatCents(0))
	assert.Equal(t, "$80.00", FormatCents(8000))
	assert.Equal(t, "$1.05", FormatCents(105))
	assert.Equal(t, "-$2.50", FormatCents(-250))
}
