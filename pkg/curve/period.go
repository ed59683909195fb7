package curve

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/obra-engine/pkg/textnorm"
	"github.com/ekaya-inc/obra-engine/pkg/values"
)

// PeriodKind tags how a period label was understood.
type PeriodKind int

const (
	// PeriodOpaque is text that could not be parsed; it keeps its row position.
	PeriodOpaque PeriodKind = iota
	// PeriodRelative is a month index ("Mes 3") with no calendar anchor.
	PeriodRelative
	// PeriodAbsolute is a calendar month.
	PeriodAbsolute
)

func (k PeriodKind) String() string {
	switch k {
	case PeriodRelative:
		return "relative"
	case PeriodAbsolute:
		return "absolute"
	}
	return "opaque"
}

// Period is a parsed period label. For absolute periods Order is
// year*12+month and Key is "YYYY-MM"; otherwise Key is the folded label.
type Period struct {
	Kind  PeriodKind
	Order int
	Key   string
	Label string
}

var monthLabels = [12]string{"Ene", "Feb", "Mar", "Abr", "May", "Jun", "Jul", "Ago", "Sep", "Oct", "Nov", "Dic"}

var abbreviatedMonths = map[string]int{
	"ene": 1, "jan": 1,
	"feb": 2,
	"mar": 3,
	"abr": 4, "apr": 4,
	"may": 5,
	"jun": 6,
	"jul": 7,
	"ago": 8, "aug": 8,
	"sep": 9, "set": 9, "sept": 9,
	"oct": 10,
	"nov": 11,
	"dic": 12, "dec": 12,
}

var fullMonths = map[string]int{
	"enero": 1, "january": 1,
	"febrero": 2, "february": 2,
	"marzo": 3, "march": 3,
	"abril": 4, "april": 4,
	"mayo": 5,
	"junio": 6, "june": 6,
	"julio": 7, "july": 7,
	"agosto": 8, "august": 8,
	"septiembre": 9, "setiembre": 9, "september": 9,
	"octubre": 10, "october": 10,
	"noviembre": 11, "november": 11,
	"diciembre": 12, "december": 12,
}

var (
	relativePattern    = regexp.MustCompile(`^(?:mes|month)?\s*(?:n[o°º]?\.?\s*)?(\d{1,3})$`)
	isoPattern         = regexp.MustCompile(`^(\d{4})[-/.](\d{1,2})(?:[-/.]\d{1,2})?(?:[t\s].*)?$`)
	dayMonthYear       = regexp.MustCompile(`^(\d{1,2})[-/.](\d{1,2})[-/.](\d{2}|\d{4})$`)
	monthYear          = regexp.MustCompile(`^(\d{1,2})[-/.](\d{2}|\d{4})$`)
	abbreviatedPattern = regexp.MustCompile(`^([a-z]{3,4})\.?\s*[-/\s]\s*'?(\d{2}|\d{4})$`)
	fullPattern        = regexp.MustCompile(`^(?:mes\s+de\s+)?([a-z]+)\s*(?:de\s+|del\s+|[-/,]\s*)?(\d{2}|\d{4})$`)
)

// AbsoluteOrder returns year*12+month.
func AbsoluteOrder(year, month int) int {
	return year*12 + month
}

// AbsolutePeriod builds the period for a chronological order value.
func AbsolutePeriod(order int) Period {
	year, month := (order-1)/12, (order-1)%12+1
	return Period{
		Kind:  PeriodAbsolute,
		Order: order,
		Key:   fmt.Sprintf("%04d-%02d", year, month),
		Label: fmt.Sprintf("%s %d", monthLabels[month-1], year),
	}
}

// ParseAnchor parses a "YYYY-MM" curve start period.
func ParseAnchor(s string) (Period, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Period{}, false
	}
	m := isoPattern.FindStringSubmatch(textnorm.Fold(s))
	if m == nil {
		return Period{}, false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return Period{}, false
	}
	return AbsolutePeriod(AbsoluteOrder(year, month)), true
}

// ParsePeriod interprets a period cell. rowIndex is the order given to
// labels that cannot be parsed. A relative month index is added to anchor
// when one is supplied.
func ParsePeriod(raw any, rowIndex int, anchor *Period) Period {
	if t, ok := raw.(time.Time); ok && !t.IsZero() {
		return AbsolutePeriod(AbsoluteOrder(t.Year(), int(t.Month())))
	}

	text, _ := values.ToText(raw).(string)
	norm := strings.Join(strings.Fields(textnorm.Fold(text)), " ")

	if p, ok := parseRelative(norm, anchor); ok {
		return p
	}
	if p, ok := parseNumericDate(norm); ok {
		return p
	}
	if p, ok := parseMonthName(norm, abbreviatedPattern, abbreviatedMonths); ok {
		return p
	}
	if p, ok := parseMonthName(norm, fullPattern, fullMonths); ok {
		return p
	}

	label := strings.TrimSpace(text)
	if label == "" {
		label = strconv.Itoa(rowIndex + 1)
		norm = "#" + label
	}
	return Period{Kind: PeriodOpaque, Order: rowIndex, Key: norm, Label: label}
}

func parseRelative(norm string, anchor *Period) (Period, bool) {
	m := relativePattern.FindStringSubmatch(norm)
	if m == nil {
		return Period{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return Period{}, false
	}
	if anchor != nil && anchor.Kind == PeriodAbsolute {
		return AbsolutePeriod(anchor.Order + n), true
	}
	return Period{
		Kind:  PeriodRelative,
		Order: n,
		Key:   fmt.Sprintf("mes %d", n),
		Label: fmt.Sprintf("Mes %d", n),
	}, true
}

func parseNumericDate(norm string) (Period, bool) {
	var yearText, monthText string
	if m := isoPattern.FindStringSubmatch(norm); m != nil {
		yearText, monthText = m[1], m[2]
	} else if m := dayMonthYear.FindStringSubmatch(norm); m != nil {
		yearText, monthText = m[3], m[2]
	} else if m := monthYear.FindStringSubmatch(norm); m != nil {
		yearText, monthText = m[2], m[1]
	} else {
		return Period{}, false
	}
	month, _ := strconv.Atoi(monthText)
	if month < 1 || month > 12 {
		return Period{}, false
	}
	return AbsolutePeriod(AbsoluteOrder(expandYear(yearText), month)), true
}

func parseMonthName(norm string, pattern *regexp.Regexp, names map[string]int) (Period, bool) {
	m := pattern.FindStringSubmatch(norm)
	if m == nil {
		return Period{}, false
	}
	month, ok := names[m[1]]
	if !ok {
		return Period{}, false
	}
	return AbsolutePeriod(AbsoluteOrder(expandYear(m[2]), month)), true
}

// expandYear reads two-digit years as 20YY.
func expandYear(s string) int {
	y, _ := strconv.Atoi(s)
	if len(s) <= 2 {
		y += 2000
	}
	return y
}
