// Package parse turns the free-form titles and locations published by the
// room calendars into structured fields. The feeds carry several title
// shapes ("Functional programming (FP) - R. Slavescu - 40 [In-person]",
// "FP 479 [In-person]", "Materie - Profesor") and two location shapes
// (resource email addresses and display text); everything here is
// best-effort and never fails, unparseable input degrades to the raw string.
package parse

import (
	"regexp"
	"strings"
)

// ParsedTitle is the structured view of one event title.
type ParsedTitle struct {
	Subject      string
	Abbreviation string
	Professor    string
	RoomCode     string
	EventType    string
	IsLab        bool
	DisplayTitle string
}

var (
	// "Nume materie (ABREV) - Profesor - Sala"
	fullTitleRe = regexp.MustCompile(`^(.+?)\s*\(([A-Za-z]{2,6})\)\s*-\s*([^-]+?)(?:\s*-\s*(.+))?$`)

	// "ABREV Sala" or "ABREV p Sala"
	shortTitleRe = regexp.MustCompile(`^([A-Z]{2,6})(?:\s+p)?\s+(.+)$`)

	eventTypeRe = regexp.MustCompile(`\[([^\]]+)\]`)
	multiWSRe   = regexp.MustCompile(`\s+`)
)

// Title parses an event title. When abbrevs is non-nil, known abbreviations
// are expanded to the full subject name they were learned from.
func Title(title string, abbrevs *AbbrevMap) ParsedTitle {
	var out ParsedTitle
	if title == "" {
		return out
	}
	title = strings.TrimSpace(title)

	// Strip the trailing "[In-person]" / "[Online]" marker first.
	if m := eventTypeRe.FindStringSubmatchIndex(title); m != nil {
		out.EventType = strings.TrimSpace(title[m[2]:m[3]])
		title = strings.TrimSpace(title[:m[0]])
	}

	lower := strings.ToLower(title)
	if strings.Contains(" "+lower+" ", " p ") ||
		strings.Contains(lower, "seminar") || strings.Contains(lower, "lab") {
		out.IsLab = true
	}

	if m := fullTitleRe.FindStringSubmatch(title); m != nil {
		out.Subject = titleCase(strings.TrimSpace(m[1]))
		out.Abbreviation = strings.ToUpper(m[2])
		out.Professor = strings.TrimSpace(m[3])
		out.RoomCode = strings.TrimSpace(m[4])
		out.DisplayTitle = out.Subject
		if out.Professor != "" {
			out.DisplayTitle += " - " + out.Professor
		}
		return out
	}

	if idx := strings.Index(title, " - "); idx >= 0 {
		out.Subject = titleCase(strings.TrimSpace(title[:idx]))
		rest := strings.TrimSpace(title[idx+3:])
		if rest != "" {
			if j := strings.Index(rest, " - "); j >= 0 {
				out.Professor = strings.TrimSpace(rest[:j])
				out.RoomCode = strings.TrimSpace(rest[j+3:])
			} else {
				out.Professor = rest
			}
		}
		out.DisplayTitle = out.Subject
		return out
	}

	// Bare trailing dash means "no professor published".
	if trimmed := strings.TrimSpace(title); strings.HasSuffix(trimmed, "-") {
		out.Subject = titleCase(strings.TrimSpace(strings.TrimRight(trimmed, "-")))
		out.DisplayTitle = out.Subject
		return out
	}

	if m := shortTitleRe.FindStringSubmatch(title); m != nil {
		out.Abbreviation = m[1]
		out.RoomCode = cleanRoomRepeat(strings.TrimSpace(m[2]))
		out.Subject = out.Abbreviation
		out.DisplayTitle = out.Abbreviation
		if full := abbrevs.Expand(out.Abbreviation); full != "" {
			out.Subject = full
			out.DisplayTitle = full
		}
		if out.IsLab {
			out.DisplayTitle += " (Practice)"
		}
		if out.RoomCode != "" {
			out.DisplayTitle += " - Room " + out.RoomCode
		}
		return out
	}

	out.Subject = titleCase(multiWSRe.ReplaceAllString(title, " "))
	out.DisplayTitle = out.Subject
	return out
}

// cleanRoomRepeat collapses the "103 / 103" doubling the feeds produce when
// the same slot is published twice.
func cleanRoomRepeat(room string) string {
	parts := strings.Split(room, "/")
	var uniq []string
	for _, p := range parts {
		p = multiWSRe.ReplaceAllString(strings.TrimSpace(p), " ")
		if p == "" {
			continue
		}
		seen := false
		for _, u := range uniq {
			if u == p {
				seen = true
				break
			}
		}
		if !seen {
			uniq = append(uniq, p)
		}
	}
	return strings.Join(uniq, " / ")
}

// titleCase uppercases the first rune of every word, matching how subject
// names are displayed.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == "" {
			continue
		}
		// Leave short all-caps tokens (abbreviations) alone.
		if len(w) <= 6 && w == strings.ToUpper(w) && strings.ContainsAny(w, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
