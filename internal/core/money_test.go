package core

import "testing"

func TestParseSignedDecimalToCents(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"12.34", 1234, true},
		{"12,34", 1234, true},
		{"-250", -25000, true},
		{"-250.00", -25000, true},
		{"+8000", 800000, true},
		{"0", 0, true},
		{"12.345", 1234, true}, // rounds down
		{"12.346", 1235, true}, // rounds up
		{"", 0, false},
		{"-", 0, false},
		{"12.3.4", 0, false},
		{"abc", 0, false},
		{"12a.3", 0, false},
	}
	for i, tc := range cases {
		got, err := ParseSignedDecimalToCents(tc.in)
		if tc.ok && err != nil {
			t.Fatalf("case %d (%q) expected ok, got %v", i, tc.in, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d (%q) expected error", i, tc.in)
		}
		if got != tc.want {
			t.Fatalf("case %d (%q) expected %d, got %d", i, tc.in, tc.want, got)
		}
	}
}
