package model

import (
	"encoding/json"
	"time"
)

// Duration is a time.Duration that serializes as its string form ("12ms").
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

// Milliseconds returns the duration as fractional milliseconds.
func (d Duration) Milliseconds() float64 {
	return float64(d) / float64(time.Millisecond)
}

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}
