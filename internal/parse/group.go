package parse

import (
	"regexp"
	"strings"
)

var (
	yearWordRe  = regexp.MustCompile(`\byear\s*([1-4])\b`)
	anYearRe    = regexp.MustCompile(`\ban(?:ul)?\s*([1-4])\b`)
	grupaRe     = regexp.MustCompile(`\bgrup[ai]\s*([a-z0-9]+)\b`)
	seriaRe     = regexp.MustCompile(`\bseria\s*([a-z0-9]+)\b`)
	groupWordRe = regexp.MustCompile(`\bgroup\s*([a-z0-9]+)\b`)
	yearGroupRe = regexp.MustCompile(`\b([1-4])\s*([a-z])\b`)
	trailYearRe = regexp.MustCompile(`\b([1-4])\b`)
)

// Group extracts a study year and group letter from a free-form string such
// as a calendar display name ("CTI eng 3A") and formats it for display as
// "Year 3 • Group A". Returns "" when nothing recognizable is present.
func Group(s string) string {
	if s == "" {
		return ""
	}
	txt := strings.ToLower(s)

	var year, group string
	if m := yearWordRe.FindStringSubmatch(txt); m != nil {
		year = m[1]
	}
	if year == "" {
		// Romanian "an 2" / "anul 2".
		if m := anYearRe.FindStringSubmatch(txt); m != nil {
			year = m[1]
		}
	}
	if m := grupaRe.FindStringSubmatch(txt); m != nil {
		group = strings.ToUpper(m[1])
	}
	if group == "" {
		// Romanian "seria A".
		if m := seriaRe.FindStringSubmatch(txt); m != nil {
			group = strings.ToUpper(m[1])
		}
	}
	if group == "" {
		if m := groupWordRe.FindStringSubmatch(txt); m != nil {
			group = strings.ToUpper(m[1])
		}
	}
	if year == "" {
		if m := yearGroupRe.FindStringSubmatch(txt); m != nil {
			year = m[1]
			if group == "" {
				group = strings.ToUpper(m[2])
			}
		}
	}
	if year == "" {
		// Last standalone digit 1-4 in the string.
		if ms := trailYearRe.FindAllStringSubmatch(txt, -1); len(ms) > 0 {
			year = ms[len(ms)-1][1]
		}
	}

	var parts []string
	if year != "" {
		parts = append(parts, "Year "+year)
	}
	if group != "" {
		parts = append(parts, "Group "+group)
	}
	return strings.Join(parts, " • ")
}
