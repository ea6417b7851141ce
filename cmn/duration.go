package cmn

import (
	"encoding/json"
	"time"
)

// Duration is stored on the wire as a human string ("60s") and cached as a
// parsed time.Duration, the same split the teacher uses for every
// period/timeout config field so a cluster-wide config document stays
// human-editable while hot paths never re-parse it.
type Duration struct {
	str string
	d   time.Duration
}

func NewDuration(d time.Duration) Duration {
	return Duration{str: d.String(), d: d}
}

func ParseDuration(s string) (Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return Duration{}, err
	}
	return Duration{str: s, d: d}, nil
}

func (d Duration) D() time.Duration { return d.d }
func (d Duration) String() string   { return d.str }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.str)
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
	d.str, d.d = s, parsed
	return nil
}
