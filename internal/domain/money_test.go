package domain

import (
	"encoding/json"
	"testing"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		raw     string
		want    Money
		wantErr bool
	}{
		{raw: "2.9", want: 290},
		{raw: "11.60", want: 1160},
		{raw: "0", want: 0},
		{raw: ".5", want: 50},
		{raw: "-1.25", want: -125},
		{raw: "1.999", wantErr: true},
		{raw: "abc", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseMoney(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("ParseMoney(%q) = %d, want %d", tc.raw, got, tc.want)
			}
		})
	}
}

func TestMoneyJSON(t *testing.T) {
	var payload struct {
		Price Money `json:"price"`
	}
	if err := json.Unmarshal([]byte(`{"price": 2.9}`), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Price != 290 {
		t.Fatalf("expected 290 cents, got %d", payload.Price)
	}

	if err := json.Unmarshal([]byte(`{"price": "15.99"}`), &payload); err != nil {
		t.Fatalf("unmarshal string: %v", err)
	}
	if payload.Price != 1599 {
		t.Fatalf("expected 1599 cents, got %d", payload.Price)
	}

	data, err := json.Marshal(struct {
		Total Money `json:"total"`
	}{Total: 1160})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"total":11.60}` {
		t.Fatalf("unexpected json %s", data)
	}

	if err := json.Unmarshal([]byte(`{"price": 0.001}`), &payload); err == nil {
		t.Fatal("sub-cent precision must be rejected")
	}
}
