package x52hid

import (
	"bytes"
	"testing"
)

func TestFormatMfdLine(t *testing.T) {
	for _, tc := range []struct {
		name  string
		index uint32
		value string
		want  []byte
	}{
		{
			name:  "padded",
			index: 0,
			value: "FUEL 42%",
			want:  append([]byte{0}, []byte("FUEL 42%        ")...),
		},
		{
			name:  "truncated",
			index: 1,
			value: "0123456789ABCDEFGHIJ",
			want:  append([]byte{1}, []byte("0123456789ABCDEF")...),
		},
		{
			name:  "empty",
			index: 2,
			value: "",
			want:  append([]byte{2}, []byte("                ")...),
		},
		{
			name:  "non ascii replaced",
			index: 0,
			value: "t\temp °C",
			want:  append([]byte{0}, []byte("t?emp ?C        ")...),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := formatMfdLine(tc.index, tc.value)
			if len(got) != 1+MfdLineLen {
				t.Fatalf("line length = %d", len(got))
			}
			if !bytes.Equal(got, tc.want) {
				t.Fatalf("line = %q, want %q", got, tc.want)
			}
		})
	}
}
