package services

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Die Muster werden in fester Reihenfolge probiert; der erste Treffer gewinnt.
// Wichtig: die vierstelligen Jahresformate müssen vor dem zweistelligen kommen.
var (
	isoDatePattern   = regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`)
	slashDatePattern = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})`)
	dashDatePattern  = regexp.MustCompile(`(\d{1,2})-(\d{1,2})-(\d{4})`)
	dotDatePattern   = regexp.MustCompile(`(\d{1,2})\.(\d{1,2})\.(\d{4})`)
	shortYearPattern = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{2})`)
)

// DateNormalizer konvertiert heterogene Datums-Strings in das kanonische
// Format YYYY-MM-DD.
type DateNormalizer struct {
	logger *zap.Logger
}

// NewDateNormalizer erstellt einen neuen DateNormalizer.
func NewDateNormalizer(logger *zap.Logger) *DateNormalizer {
	return &DateNormalizer{logger: logger}
}

// Normalize gibt das Datum als YYYY-MM-DD zurück. Leere Eingaben ergeben einen
// leeren String. Passt kein bekanntes Muster, wird die Eingabe unverändert
// zurückgegeben und eine Warnung geloggt.
func (dn *DateNormalizer) Normalize(dateStr string) string {
	trimmed := strings.TrimSpace(dateStr)
	if trimmed == "" {
		return ""
	}

	if m := isoDatePattern.FindStringSubmatch(trimmed); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	}

	for _, pattern := range []*regexp.Regexp{slashDatePattern, dashDatePattern, dotDatePattern} {
		if m := pattern.FindStringSubmatch(trimmed); m != nil {
			year, _ := strconv.Atoi(m[3])
			return formatWithDayMonthHeuristic(year, m[1], m[2])
		}
	}

	if m := shortYearPattern.FindStringSubmatch(trimmed); m != nil {
		year, _ := strconv.Atoi(m[3])
		if year < 50 {
			year += 2000
		} else {
			year += 1900
		}
		return formatWithDayMonthHeuristic(year, m[1], m[2])
	}

	dn.logger.Warn("Konnte Datum nicht parsen", zap.String("date", dateStr))
	return dateStr
}

// formatWithDayMonthHeuristic entscheidet die Tag/Monat-Reihenfolge: ist der
// erste Teil > 12, muss er der Tag sein. Für echt mehrdeutige Eingaben wie
// 03/04/2024 gewinnt Monat-zuerst; das ist so gewollt.
func formatWithDayMonthHeuristic(year int, first, second string) string {
	p1, _ := strconv.Atoi(first)
	p2, _ := strconv.Atoi(second)

	var month, day int
	if p1 > 12 {
		day, month = p1, p2
	} else {
		month, day = p1, p2
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
}
