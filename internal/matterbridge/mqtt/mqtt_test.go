package mqtt

import "testing"

func TestCamelToKebab(t *testing.T) {
	cases := map[string]string{
		"OnOff":        "on-off",
		"CurrentLevel": "current-level",
		"NodeLabel":    "node-label",
		"a":            "a",
	}
	for in, want := range cases {
		if got := camelToKebab(in); got != want {
			t.Errorf("camelToKebab(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHomieDatatype(t *testing.T) {
	cases := map[string]string{
		"uint8":  "integer",
		"bool":   "boolean",
		"string": "string",
		"enum8":  "enum",
		"list":   "string",
	}
	for in, want := range cases {
		if got := homieDatatype(in); got != want {
			t.Errorf("homieDatatype(%q) = %q, want %q", in, got, want)
		}
	}
}
