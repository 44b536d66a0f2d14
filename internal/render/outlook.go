package render

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// RawItem is one calendar item as it appears in the Outlook service
// responses, reduced to the fields the pipeline consumes.
type RawItem struct {
	ID       string
	Subject  string
	Location string
	Start    time.Time
	End      time.Time
}

// The service envelope nests items in two shapes depending on the call:
// GetItem returns ResponseMessages.Items[].Items[], the published-calendar
// view returns ResponseMessages.Items[].RootFolder.Items[].
type serviceEnvelope struct {
	Body struct {
		ResponseMessages struct {
			Items []responseMessage `json:"Items"`
		} `json:"ResponseMessages"`
	} `json:"Body"`
}

type responseMessage struct {
	Items      []serviceItem `json:"Items"`
	RootFolder struct {
		Items []serviceItem `json:"Items"`
	} `json:"RootFolder"`
}

type serviceItem struct {
	Type   string `json:"__type"`
	ItemID struct {
		ID string `json:"Id"`
	} `json:"ItemId"`
	Subject  string `json:"Subject"`
	Start    string `json:"Start"`
	End      string `json:"End"`
	Location struct {
		DisplayName string `json:"DisplayName"`
	} `json:"Location"`
}

// decodeAll decodes every captured response body and flattens the calendar
// items, deduplicating across responses (the page fetches overlapping views).
func decodeAll(bodies [][]byte) []RawItem {
	seen := make(map[string]struct{})
	var out []RawItem
	for _, body := range bodies {
		for _, item := range decodeEnvelope(body) {
			key := item.ID
			if key == "" {
				key = item.Subject + "|" + item.Start.Format(time.RFC3339)
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}

func decodeEnvelope(body []byte) []RawItem {
	var env serviceEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	var out []RawItem
	for _, msg := range env.Body.ResponseMessages.Items {
		for _, it := range msg.Items {
			if item, ok := toRawItem(it); ok {
				out = append(out, item)
			}
		}
		for _, it := range msg.RootFolder.Items {
			if item, ok := toRawItem(it); ok {
				out = append(out, item)
			}
		}
	}
	return out
}

func toRawItem(it serviceItem) (RawItem, bool) {
	if it.Type != "" && !strings.Contains(it.Type, "CalendarItem") {
		return RawItem{}, false
	}
	start, ok1 := parseServiceTime(it.Start)
	end, ok2 := parseServiceTime(it.End)
	if !ok1 || !ok2 {
		return RawItem{}, false
	}
	return RawItem{
		ID:       it.ItemID.ID,
		Subject:  strings.TrimSpace(it.Subject),
		Location: strings.TrimSpace(it.Location.DisplayName),
		Start:    start,
		End:      end,
	}, true
}

// parseServiceTime accepts the RFC3339 variants the service emits, with and
// without offset.
func parseServiceTime(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
