package model

import (
	"encoding/json"
	"strings"

	"golang.org/x/text/cases"
)

// FlagYes is the canonical textual form of an affirmative flag.
const FlagYes = "SIM"

var affirmative = map[string]bool{
	"sim":  true,
	"true": true,
	"1":    true,
	"yes":  true,
}

// Flag is a loosely typed yes/no answer as captured by the form. The raw
// value (bool, string, number or null) is kept verbatim and only normalized
// at send time.
type Flag struct {
	raw any
}

// FlagOf wraps a raw form value.
func FlagOf(v any) Flag {
	return Flag{raw: v}
}

// Value returns the raw value.
func (f Flag) Value() any {
	return f.raw
}

// IsZero reports whether no value was captured.
func (f Flag) IsZero() bool {
	return f.raw == nil
}

// Normalized returns "SIM" or "".
func (f Flag) Normalized() string {
	return NormalizeFlag(f.raw)
}

// MarshalJSON encodes the raw value.
func (f Flag) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.raw)
}

// UnmarshalJSON keeps whatever JSON value was sent.
func (f *Flag) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	f.raw = v
	return nil
}

// NormalizeFlag maps a captured flag value to "SIM" or "".
//
// true, and strings equal to sim/true/1/yes ignoring case and surrounding
// whitespace, give "SIM". Everything else, numbers included, gives "".
// The remote sheet stores this value as-is.
func NormalizeFlag(v any) string {
	switch x := v.(type) {
	case bool:
		if x {
			return FlagYes
		}
	case string:
		// A Caser is stateful, so one is built per call.
		if affirmative[cases.Fold().String(strings.TrimSpace(x))] {
			return FlagYes
		}
	}
	return ""
}
