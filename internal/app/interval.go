// internal/app/interval.go
package app

import (
	"strconv"
	"strings"

	"renewal_notifier/internal/domain/subscription"

	"golang.org/x/text/language"
)

// Locale selects the phrase tables and formats used for one message.
type Locale string

const (
	LocaleSwedish Locale = "sv"
	LocaleEnglish Locale = "en"
)

var supportedLocales = []Locale{LocaleSwedish, LocaleEnglish}

var localeMatcher = language.NewMatcher([]language.Tag{language.Swedish, language.English})

// ResolveLocale maps a BCP 47 tag such as "sv-SE" or "en_GB" to a supported locale.
// Anything unparseable or unsupported resolves to fallback.
func ResolveLocale(tag string, fallback Locale) Locale {
	tag = strings.TrimSpace(strings.ReplaceAll(tag, "_", "-"))
	if tag == "" {
		return fallback
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return fallback
	}
	_, idx, confidence := localeMatcher.Match(parsed)
	if confidence == language.No {
		return fallback
	}
	return supportedLocales[idx]
}

type unitNames struct {
	singular string
	plural   string
	neuter   bool // Swedish "vart" instead of "var"
}

var englishUnits = map[subscription.IntervalUnit]unitNames{
	subscription.IntervalDay:   {singular: "day", plural: "days"},
	subscription.IntervalWeek:  {singular: "week", plural: "weeks"},
	subscription.IntervalMonth: {singular: "month", plural: "months"},
	subscription.IntervalYear:  {singular: "year", plural: "years"},
}

var swedishUnits = map[subscription.IntervalUnit]unitNames{
	subscription.IntervalDay:   {singular: "dag"},
	subscription.IntervalWeek:  {singular: "vecka"},
	subscription.IntervalMonth: {singular: "månad"},
	subscription.IntervalYear:  {singular: "år", neuter: true},
}

// IntervalPhrase describes a billing cadence, e.g. "every month", "every 3 weeks",
// "varje månad" or "var 2:a vecka". Unknown units fall back to a generic period phrase.
func IntervalPhrase(unit subscription.IntervalUnit, count int64, locale Locale) string {
	if locale == LocaleEnglish {
		return englishInterval(unit, count)
	}
	return swedishInterval(unit, count)
}

func englishInterval(unit subscription.IntervalUnit, count int64) string {
	if unit == subscription.IntervalMonth && count == 3 {
		return "every quarter"
	}
	names, ok := englishUnits[unit]
	if !ok {
		names = unitNames{singular: "period", plural: "periods"}
	}
	if count <= 1 {
		return "every " + names.singular
	}
	return "every " + strconv.FormatInt(count, 10) + " " + names.plural
}

func swedishInterval(unit subscription.IntervalUnit, count int64) string {
	if unit == subscription.IntervalMonth && count == 3 {
		return "varje kvartal"
	}
	names, ok := swedishUnits[unit]
	if !ok {
		names = unitNames{singular: "period"}
	}
	if count <= 1 {
		return "varje " + names.singular
	}
	every := "var"
	if names.neuter {
		every = "vart"
	}
	return every + " " + swedishOrdinal(count) + " " + names.singular
}

// swedishOrdinal abbreviates an ordinal number: 2:a, 3:e, 11:e, 21:a.
func swedishOrdinal(n int64) string {
	suffix := ":e"
	if lastTwo := n % 100; lastTwo != 11 && lastTwo != 12 {
		if last := n % 10; last == 1 || last == 2 {
			suffix = ":a"
		}
	}
	return strconv.FormatInt(n, 10) + suffix
}
