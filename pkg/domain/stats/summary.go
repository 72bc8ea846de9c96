package stats

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/trailblazerplus/server/pkg/types"
)

// Summary renders the totals for display with locale-aware number grouping.
func Summary(s types.Stats, lang language.Tag) string {
	p := message.NewPrinter(lang)
	return p.Sprintf("%.1f km · %d min · %d steps · %d day streak",
		s.TotalKm, int64(s.TotalMinutes), s.TotalSteps, s.CurrentStreak)
}

// ParseLanguage resolves an Accept-Language header, defaulting to English.
func ParseLanguage(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	matcher := language.NewMatcher([]language.Tag{language.English, language.German, language.French, language.Spanish})
	tag, _, _ := matcher.Match(tags...)
	return tag
}
