package parse

import (
	"regexp"
	"sort"
	"strings"
)

// ParsedLocation is the structured view of one event location.
type ParsedLocation struct {
	Building string
	Room     string
}

// buildingAliases maps the codes embedded in resource emails and display
// text to canonical building names.
var buildingAliases = map[string]string{
	"bar":           "Baritiu",
	"baritiu":       "Baritiu",
	"daic":          "DAIC",
	"doro":          "Dorobantilor",
	"dorobantilor":  "Dorobantilor",
	"obs":           "Observatorului",
	"memo":          "Memorandumului",
	"memorandumului": "Memorandumului",
}

var (
	emailLocRe = regexp.MustCompile(`^utcn_room_ac_([a-z]+)_(.+)$`)

	btRoomRe = regexp.MustCompile(`^BT[-_]?(\d)(\d{2})$`)
	sRoomRe  = regexp.MustCompile(`^S[-_]?(\d)(\d)$`)

	roomTextRes = []*regexp.Regexp{
		regexp.MustCompile(`sala\s+([a-z]*\s*[\d\.]+[a-z]?)`),
		regexp.MustCompile(`\b(bt\s*[\d\.]+)`),
		regexp.MustCompile(`\b(s\s*[\d\.]+)`),
		regexp.MustCompile(`\b(p\s*\d+)`),
		regexp.MustCompile(`\b(d\s*\d+)`),
		regexp.MustCompile(`\b(\d{2,3}[a-z]?)\b`),
	}
)

// Location parses a location in either of the two published shapes: a campus
// resource email (utcn_room_ac_<building>_<room>@campus.utcluj.ro) or free
// display text ("UTCN - AC Bar - Sala BT 503").
func Location(loc string) ParsedLocation {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return ParsedLocation{}
	}
	if strings.Contains(loc, "@") && strings.Contains(strings.ToLower(loc), "utcn_room") {
		return locationFromEmail(loc)
	}
	return locationFromText(loc)
}

func locationFromEmail(email string) ParsedLocation {
	var out ParsedLocation
	local := strings.ToLower(strings.SplitN(email, "@", 2)[0])
	m := emailLocRe.FindStringSubmatch(local)
	if m == nil {
		return out
	}
	out.Building = canonicalBuilding(m[1])
	out.Room = NormalizeRoom(m[2])
	return out
}

func locationFromText(text string) ParsedLocation {
	var out ParsedLocation
	lower := strings.ToLower(text)

	// Longer aliases first so "dorobantilor" wins over "doro".
	aliases := make([]string, 0, len(buildingAliases))
	for a := range buildingAliases {
		aliases = append(aliases, a)
	}
	sort.Slice(aliases, func(i, j int) bool { return len(aliases[i]) > len(aliases[j]) })
	for _, a := range aliases {
		if strings.Contains(lower, a) {
			out.Building = buildingAliases[a]
			break
		}
	}

	for _, re := range roomTextRes {
		if m := re.FindStringSubmatch(lower); m != nil {
			out.Room = NormalizeRoom(strings.ReplaceAll(strings.TrimSpace(m[1]), " ", ""))
			break
		}
	}
	return out
}

func canonicalBuilding(code string) string {
	if name, ok := buildingAliases[strings.ToLower(code)]; ok {
		return name
	}
	return strings.ToUpper(code)
}

// NormalizeRoom canonicalizes a room code: bt-503 becomes BT5.03, s42
// becomes S4.2. Codes like P03, D01, 107 and 26B pass through uppercased.
func NormalizeRoom(room string) string {
	room = strings.ToUpper(strings.TrimSpace(room))
	if room == "" {
		return ""
	}
	if m := btRoomRe.FindStringSubmatch(room); m != nil {
		return "BT" + m[1] + "." + m[2]
	}
	if m := sRoomRe.FindStringSubmatch(room); m != nil {
		return "S" + m[1] + "." + m[2]
	}
	return strings.ReplaceAll(room, "-", "")
}
