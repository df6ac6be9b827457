package tlv

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGetValue(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		tag     string
		want    []byte
		wantErr bool
	}{
		{
			name: "PC/SC Part 3 card identifier (MIFARE Classic 1K)",
			data: Hex("4F 0C A0 00 00 03 06 03 00 01 00 00 00 00"),
			tag:  "4F",
			want: Hex("A0 00 00 03 06 03 00 01 00 00 00 00"),
		},
		{
			name: "Nested inside a template, lower-case tag",
			data: Hex("6F 07 84 05 31 50 41 59 2E"),
			tag:  "84",
			want: []byte("1PAY."),
		},
		{
			name:    "Missing tag",
			data:    Hex("50 01 41"),
			tag:     "4F",
			wantErr: true,
		},
		{
			name:    "Truncated length",
			data:    Hex("4F 0C A0"),
			tag:     "4F",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GetValue(tt.data, tt.tag)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetValue() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
