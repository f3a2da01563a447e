package response

import (
	"io"
	"strings"
	"testing"
)

func TestPageMeta(t *testing.T) {
	cases := []struct {
		name                 string
		count, limit, offset int
		hasNext, hasPrev     bool
	}{
		{"full first page", 20, 20, 0, true, false},
		{"short last page", 7, 20, 40, false, true},
		{"unbounded", 350, 0, 0, false, false},
	}
	for _, tc := range cases {
		m := PageMeta(tc.count, tc.limit, tc.offset)
		if m.HasNext != tc.hasNext || m.HasPrev != tc.hasPrev {
			t.Fatalf("%s: got %+v", tc.name, m)
		}
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var v struct {
		Amount int64 `json:"amount"`
	}
	if err := DecodeJSON(io.NopCloser(strings.NewReader(`{"amount": 5}`)), &v); err != nil || v.Amount != 5 {
		t.Fatalf("decode failed: %v", err)
	}
	if err := DecodeJSON(io.NopCloser(strings.NewReader(`{"amount": 5, "amuont": 6}`)), &v); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}
