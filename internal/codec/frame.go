package codec

import (
	"encoding/json"
	"strconv"
	"time"
)

// Kind identifies the sentence family a Frame was decoded from.
type Kind int

const (
	KindConfiguration Kind = iota + 1
	KindSensor
	KindCurrent
)

// String returns the variant tag used in persisted records.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "Configuration"
	case KindSensor:
		return "Sensor"
	case KindCurrent:
		return "Current"
	default:
		return "Unknown"
	}
}

// Frame is a decoded, checksum-validated telemetry record.
// It is implemented only by *Configuration, *Sensor and *Current.
type Frame interface {
	Kind() Kind
	// Timestamp reports the instrument time carried by the frame, if any.
	Timestamp() (time.Time, bool)
	sentenceID() string
}

// Value is a numeric field that may be unset by the -9 sentinel.
type Value struct {
	Float float64
	Valid bool
}

// Set returns a valid Value.
func Set(f float64) Value { return Value{Float: f, Valid: true} }

// Unset is the explicit "no valid reading" value.
var Unset = Value{}

// MarshalJSON renders unset values as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(v.Float, 'f', -1, 64)), nil
}

// UnmarshalJSON accepts a number or null.
func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = Unset
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*v = Set(f)
	return nil
}

// Configuration is the PNORI instrument geometry sentence.
type Configuration struct {
	InstrumentType   Value  `json:"instrument_type"`
	HeadID           string `json:"head_id"`
	Beams            Value  `json:"beams"`
	Cells            Value  `json:"cells"`
	BlankingDistance Value  `json:"blanking_distance"`
	CellSize         Value  `json:"cell_size"`
	CoordinateSystem Value  `json:"coordinate_system"`
}

func (*Configuration) Kind() Kind { return KindConfiguration }
func (*Configuration) Timestamp() (time.Time, bool) { return time.Time{}, false }
func (*Configuration) sentenceID() string { return sentenceConfiguration }

// Sensor is the PNORS sensor sentence.
type Sensor struct {
	Time        time.Time `json:"timestamp"`
	ErrorCode   string    `json:"error_code"`
	StatusCode  string    `json:"status_code"`
	Battery     Value     `json:"battery_voltage"`
	SoundSpeed  Value     `json:"sound_speed"`
	Heading     Value     `json:"heading"`
	Pitch       Value     `json:"pitch"`
	Roll        Value     `json:"roll"`
	Pressure    Value     `json:"pressure"`
	Temperature Value     `json:"temperature"`
	AnalogIn1   Value     `json:"analog_in_1"`
	AnalogIn2   Value     `json:"analog_in_2"`
}

func (*Sensor) Kind() Kind { return KindSensor }
func (s *Sensor) Timestamp() (time.Time, bool) { return s.Time, true }
func (*Sensor) sentenceID() string { return sentenceSensor }

// Current is the PNORC per-cell velocity sentence.
type Current struct {
	Time          time.Time `json:"timestamp"`
	Cell          Value     `json:"cell_number"`
	Velocity      [4]Value  `json:"velocity"`
	Speed         Value     `json:"speed"`
	Direction     Value     `json:"direction"`
	AmplitudeUnit string    `json:"amplitude_unit"`
	Amplitude     [4]Value  `json:"amplitude"`
	Correlation   [4]Value  `json:"correlation"`
}

func (*Current) Kind() Kind { return KindCurrent }
func (c *Current) Timestamp() (time.Time, bool) { return c.Time, true }
func (*Current) sentenceID() string { return sentenceCurrent }
