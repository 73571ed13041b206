package payment

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"
	"paperwise/pkg/domain"
)

func TestParseMetadata(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]string
		want    Target
		wantErr bool
	}{
		{
			name: "single document",
			raw:  map[string]string{"userId": "u1", "documentId": "d1"},
			want: SingleDocument{DocumentID: "d1"},
		},
		{
			name: "multi document trims and drops blanks",
			raw:  map[string]string{"userId": "u1", "documentIds": "d1, d2,,"},
			want: MultiDocument{DocumentIDs: []string{"d1", "d2"}},
		},
		{
			name: "multi document drops repeats",
			raw:  map[string]string{"userId": "u1", "documentIds": "d1,d2, d1,d2"},
			want: MultiDocument{DocumentIDs: []string{"d1", "d2"}},
		},
		{
			name: "multi wins over single",
			raw:  map[string]string{"documentIds": "d1", "documentId": "d9"},
			want: MultiDocument{DocumentIDs: []string{"d1"}},
		},
		{
			name:    "only separators",
			raw:     map[string]string{"documentIds": " , ,"},
			wantErr: true,
		},
		{
			name:    "neither field",
			raw:     map[string]string{"userId": "u1"},
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseMetadata(tc.raw)
			if tc.wantErr {
				if domain.KindOf(err) != domain.KindValidation {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if !reflect.DeepEqual(got.Target, tc.want) {
				t.Fatalf("target = %#v, want %#v", got.Target, tc.want)
			}
		})
	}
}

func TestCheckoutMetadataMapRoundTrips(t *testing.T) {
	meta := CheckoutMetadata{UserID: "u1", Target: MultiDocument{DocumentIDs: []string{"d1", "d2"}}}
	raw := meta.Map()
	if raw["documentIds"] != "d1,d2" || raw["userId"] != "u1" {
		t.Fatalf("unexpected map %v", raw)
	}
	if _, ok := raw["documentId"]; ok {
		t.Fatalf("multi metadata must not carry documentId")
	}
	parsed, err := ParseMetadata(raw)
	if err != nil || !reflect.DeepEqual(parsed, meta) {
		t.Fatalf("round trip mismatch: %#v err=%v", parsed, err)
	}
}

func TestMinorUnits(t *testing.T) {
	if got := ToMinorUnits(decimal.RequireFromString("19.99")); got != 1999 {
		t.Fatalf("to minor = %d", got)
	}
	if got := FromMinorUnits(3998); !got.Equal(decimal.RequireFromString("39.98")) {
		t.Fatalf("from minor = %s", got)
	}
}
