package curve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		name      string
		raw       any
		wantKind  PeriodKind
		wantKey   string
		wantLabel string
	}{
		{"relative month", "Mes 3", PeriodRelative, "mes 3", "Mes 3"},
		{"relative with number sign", "Mes Nº 12", PeriodRelative, "mes 12", "Mes 12"},
		{"bare month index", 4.0, PeriodRelative, "mes 4", "Mes 4"},
		{"day month year", "01/03/2024", PeriodAbsolute, "2024-03", "Mar 2024"},
		{"day month short year", "15-11-23", PeriodAbsolute, "2023-11", "Nov 2023"},
		{"month year", "03/2024", PeriodAbsolute, "2024-03", "Mar 2024"},
		{"iso date", "2024-07-31", PeriodAbsolute, "2024-07", "Jul 2024"},
		{"iso timestamp", "2024-07-31T10:00:00Z", PeriodAbsolute, "2024-07", "Jul 2024"},
		{"abbreviated spanish", "mar-24", PeriodAbsolute, "2024-03", "Mar 2024"},
		{"abbreviated with slash", "Ago/2024", PeriodAbsolute, "2024-08", "Ago 2024"},
		{"abbreviated english", "Dec 2023", PeriodAbsolute, "2023-12", "Dic 2023"},
		{"abbreviated sept", "sept. 2024", PeriodAbsolute, "2024-09", "Sep 2024"},
		{"full spanish", "marzo de 2024", PeriodAbsolute, "2024-03", "Mar 2024"},
		{"full with mes de prefix", "Mes de Febrero de 2025", PeriodAbsolute, "2025-02", "Feb 2025"},
		{"full with accents and case", "SETIEMBRE 2024", PeriodAbsolute, "2024-09", "Sep 2024"},
		{"full english", "January, 2024", PeriodAbsolute, "2024-01", "Ene 2024"},
		{"mayo is a full name", "Mayo 2024", PeriodAbsolute, "2024-05", "May 2024"},
		{"time value", time.Date(2024, time.June, 10, 0, 0, 0, 0, time.UTC), PeriodAbsolute, "2024-06", "Jun 2024"},
		{"invalid month falls through", "13/2024", PeriodOpaque, "13/2024", "13/2024"},
		{"opaque text", "Etapa Final", PeriodOpaque, "etapa final", "Etapa Final"},
		{"unknown month name", "foo 2024", PeriodOpaque, "foo 2024", "foo 2024"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParsePeriod(tt.raw, 7, nil)
			assert.Equal(t, tt.wantKind, p.Kind)
			assert.Equal(t, tt.wantKey, p.Key)
			assert.Equal(t, tt.wantLabel, p.Label)
		})
	}
}

func TestParsePeriod_Orders(t *testing.T) {
	assert.Equal(t, 3, ParsePeriod("Mes 3", 9, nil).Order)
	assert.Equal(t, AbsoluteOrder(2024, 3), ParsePeriod("marzo 2024", 9, nil).Order)
	assert.Equal(t, 9, ParsePeriod("sin fecha", 9, nil).Order)
}

func TestParsePeriod_EmptyLabelUsesRowPosition(t *testing.T) {
	p := ParsePeriod(nil, 4, nil)
	assert.Equal(t, PeriodOpaque, p.Kind)
	assert.Equal(t, 4, p.Order)
	assert.Equal(t, "5", p.Label)
	assert.Equal(t, "#5", p.Key)
}

func TestParsePeriod_RelativeWithAnchor(t *testing.T) {
	anchor, ok := ParseAnchor("2024-01")
	require.True(t, ok)

	p := ParsePeriod("Mes 2", 0, &anchor)
	assert.Equal(t, PeriodAbsolute, p.Kind)
	assert.Equal(t, "2024-03", p.Key)
	assert.Equal(t, "Mar 2024", p.Label)

	p = ParsePeriod("Mes 12", 0, &anchor)
	assert.Equal(t, "2025-01", p.Key)
	assert.Equal(t, "Ene 2025", p.Label)

	// Absolute labels are not shifted by the anchor.
	p = ParsePeriod("05/2024", 0, &anchor)
	assert.Equal(t, "2024-05", p.Key)
}

func TestParseAnchor(t *testing.T) {
	p, ok := ParseAnchor(" 2023-12 ")
	require.True(t, ok)
	assert.Equal(t, "2023-12", p.Key)
	assert.Equal(t, "Dic 2023", p.Label)

	_, ok = ParseAnchor("")
	assert.False(t, ok)
	_, ok = ParseAnchor("2023-13")
	assert.False(t, ok)
	_, ok = ParseAnchor("diciembre")
	assert.False(t, ok)
}

func TestAbsolutePeriod_RoundTrip(t *testing.T) {
	for year := 1999; year <= 2031; year++ {
		for month := 1; month <= 12; month++ {
			p := AbsolutePeriod(AbsoluteOrder(year, month))
			got, ok := ParseAnchor(p.Key)
			require.True(t, ok, p.Key)
			assert.Equal(t, p, got)
		}
	}
}
