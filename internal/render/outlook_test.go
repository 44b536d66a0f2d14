package render

import (
	"testing"
	"time"
)

const getItemResponse = `{
  "Header": {},
  "Body": {
    "ResponseMessages": {
      "Items": [
        {
          "Items": [
            {
              "__type": "CalendarItem:#Exchange",
              "ItemId": {"Id": "AAMkAD-1"},
              "Subject": "FP 479 [In-person]",
              "Start": "2026-03-10T08:00:00Z",
              "End": "2026-03-10T10:00:00Z",
              "Location": {"DisplayName": "utcn_room_ac_daic_479@campus.utcluj.ro"}
            }
          ]
        }
      ]
    }
  }
}`

const rootFolderResponse = `{
  "Body": {
    "ResponseMessages": {
      "Items": [
        {
          "RootFolder": {
            "Items": [
              {
                "__type": "CalendarItem:#Exchange",
                "ItemId": {"Id": "AAMkAD-2"},
                "Subject": "AI 26B [In-person]",
                "Start": "2026-03-11T12:00:00",
                "End": "2026-03-11T14:00:00",
                "Location": {"DisplayName": "UTCN - AC Bar - Sala 26B"}
              },
              {
                "__type": "Folder:#Exchange",
                "Subject": "not a calendar item"
              }
            ]
          }
        }
      ]
    }
  }
}`

func TestDecodeGetItemEnvelope(t *testing.T) {
	items := decodeEnvelope([]byte(getItemResponse))
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	it := items[0]
	if it.ID != "AAMkAD-1" {
		t.Errorf("id = %q", it.ID)
	}
	if it.Subject != "FP 479 [In-person]" {
		t.Errorf("subject = %q", it.Subject)
	}
	want := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	if !it.Start.Equal(want) {
		t.Errorf("start = %v, want %v", it.Start, want)
	}
}

func TestDecodeRootFolderEnvelopeSkipsNonCalendarItems(t *testing.T) {
	items := decodeEnvelope([]byte(rootFolderResponse))
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].Location != "UTCN - AC Bar - Sala 26B" {
		t.Errorf("location = %q", items[0].Location)
	}
}

func TestDecodeAllDeduplicates(t *testing.T) {
	items := decodeAll([][]byte{[]byte(getItemResponse), []byte(getItemResponse)})
	if len(items) != 1 {
		t.Fatalf("got %d items after dedupe, want 1", len(items))
	}
}

func TestDecodeEnvelopeGarbage(t *testing.T) {
	if items := decodeEnvelope([]byte("<html>nope</html>")); items != nil {
		t.Fatalf("got %v, want nil", items)
	}
}

func TestIsCalendarService(t *testing.T) {
	cases := map[string]bool{
		"https://outlook.office365.com/owa/service.svc?action=GetItem":          true,
		"https://outlook.office365.com/owa/service.svc?action=GetItems":         true,
		"https://outlook.office365.com/owa/service.svc?action=PublishedCalendar": true,
		"https://outlook.office365.com/owa/service.svc?action=GetUserAvailability": false,
		"https://outlook.office365.com/owa/other.svc?action=GetItem":            false,
		"https://cdn.office.net/assets/app.js":                                  false,
	}
	for url, want := range cases {
		if got := isCalendarService(url); got != want {
			t.Errorf("isCalendarService(%q) = %v, want %v", url, got, want)
		}
	}
}
