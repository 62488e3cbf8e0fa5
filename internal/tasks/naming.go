package tasks

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const nameDateLayout = "Jan-02"

var nameDateSuffix = regexp.MustCompile(`,\s+([A-Z][a-z]{2}-\d{2})$`)

// DisplayName builds the target playlist name "<prefix> <Category>, <Mon-02>".
func DisplayName(prefix, category string, date time.Time) string {
	category = cases.Title(language.English, cases.NoLower).String(strings.TrimSpace(category))
	name := category + ", " + date.Format(nameDateLayout)
	if prefix = strings.TrimSpace(prefix); prefix != "" {
		name = prefix + " " + name
	}
	return name
}

// ParsedName is a playlist name taken apart by [ParseDisplayName].
type ParsedName struct {
	Category string
	Date     time.Time
}

// ParseDisplayName reverses [DisplayName] for names carrying prefix. Names
// without the prefix or the date suffix are not managed and report false.
//
// The year is not part of the name; it is taken from now, or the year before
// when that would put the date in the future.
func ParseDisplayName(prefix, name string, now time.Time) (ParsedName, bool) {
	prefix = strings.TrimSpace(prefix)
	rest := name
	if prefix != "" {
		if !strings.HasPrefix(name, prefix+" ") {
			return ParsedName{}, false
		}
		rest = strings.TrimPrefix(name, prefix+" ")
	}

	m := nameDateSuffix.FindStringSubmatchIndex(rest)
	if m == nil {
		return ParsedName{}, false
	}
	category := strings.TrimSpace(rest[:m[0]])
	if category == "" {
		return ParsedName{}, false
	}

	day, err := time.ParseInLocation(nameDateLayout, rest[m[2]:m[3]], now.Location())
	if err != nil {
		return ParsedName{}, false
	}
	date := time.Date(now.Year(), day.Month(), day.Day(), 0, 0, 0, 0, now.Location())
	if date.After(now) {
		date = date.AddDate(-1, 0, 0)
	}
	return ParsedName{Category: category, Date: date}, true
}

func sameCategory(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
