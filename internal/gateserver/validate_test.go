package gateserver

import "testing"

func TestValidUsername(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"abc", true},
		{"Alice_01", true},
		{"with-dash", true},
		{"ab", false},
		{"", false},
		{"exactly_20_chars_abc", true},
		{"exactly_21_chars_abcd", false},
		{"has space", false},
		{"almost!ok", false},
		{"юникод", false},
	}
	for _, tc := range cases {
		if got := validUsername(tc.in); got != tc.want {
			t.Errorf("validUsername(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestStrongPassword(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"Str0ngPass", true},
		{"aB3aB3aB", true},
		{"short1A", false},       // 7 chars
		{"alllowercase1", false}, // no upper
		{"ALLUPPERCASE1", false}, // no lower
		{"NoDigitsHere", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := strongPassword(tc.in); got != tc.want {
			t.Errorf("strongPassword(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
