package codec

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"
)

const (
	lineConfiguration = "$PNORI,4,Signature1000_100297,4,21,0.20,1.00,0*41"
	lineSensor        = "$PNORS,010526,220800,00000000,3ED40002,23.7,1532.0,275.4,-49.1,83.0,0.000,24.02,0,0*77"
	lineCurrent       = "$PNORC,010526,220800,1,-32.77,-32.77,-32.77,-32.77,46.34,225.0,C,65,64,61,59,40,37,14,22*35"
	lineSentinels     = "$PNORS,010526,220800,00000000,3ED40002,-9.00,1532.0,275.4,-49.1,83.0,-999,24.02,,0*5F"
	lineUnknown       = "$PNORX,1,2*58"
)

func TestParse_Configuration(t *testing.T) {
	f, err := Parse(lineConfiguration)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, ok := f.(*Configuration)
	if !ok {
		t.Fatalf("expected *Configuration, got %T", f)
	}
	want := &Configuration{
		InstrumentType:   Set(4),
		HeadID:           "Signature1000_100297",
		Beams:            Set(4),
		Cells:            Set(21),
		BlankingDistance: Set(0.2),
		CellSize:         Set(1),
		CoordinateSystem: Set(0),
	}
	if !reflect.DeepEqual(c, want) {
		t.Fatalf("expected %+v, got %+v", want, c)
	}
	if _, dated := c.Timestamp(); dated {
		t.Fatal("expected configuration frame to carry no timestamp")
	}
}

func TestParse_Sensor(t *testing.T) {
	f, err := Parse(lineSensor + "\r\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, ok := f.(*Sensor)
	if !ok {
		t.Fatalf("expected *Sensor, got %T", f)
	}
	wantTime := time.Date(2026, time.January, 5, 22, 8, 0, 0, time.UTC)
	if !s.Time.Equal(wantTime) {
		t.Fatalf("expected timestamp %v, got %v", wantTime, s.Time)
	}
	if s.StatusCode != "3ED40002" || s.Heading != Set(275.4) || s.Pitch != Set(-49.1) || s.Temperature != Set(24.02) {
		t.Fatalf("unexpected sensor fields: %+v", s)
	}
	if s.Pressure != Set(0) {
		t.Fatalf("expected pressure 0 to stay a valid reading, got %+v", s.Pressure)
	}
}

func TestParse_Current(t *testing.T) {
	f, err := Parse(lineCurrent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, ok := f.(*Current)
	if !ok {
		t.Fatalf("expected *Current, got %T", f)
	}
	if c.Cell != Set(1) || c.Speed != Set(46.34) || c.Direction != Set(225) || c.AmplitudeUnit != "C" {
		t.Fatalf("unexpected current fields: %+v", c)
	}
	if c.Velocity != [4]Value{Set(-32.77), Set(-32.77), Set(-32.77), Set(-32.77)} {
		t.Fatalf("unexpected velocities: %+v", c.Velocity)
	}
	if c.Correlation != [4]Value{Set(40), Set(37), Set(14), Set(22)} {
		t.Fatalf("unexpected correlations: %+v", c.Correlation)
	}
}

func TestParse_CurrentFieldCount(t *testing.T) {
	const prefix = "PNORC,010526,220800,1,-32.77,-32.77,-32.77,-32.77,46.34,225.0,C,65,64,61,59"
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"eighteen fields", prefix + ",40,37,14,22", false},
		{"seventeen fields", prefix + ",40,37,14", true},
		{"nineteen fields", prefix + ",40,37,14,22,9", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse(withChecksum(tt.body))
			if tt.wantErr {
				if Classify(err) != ClassField {
					t.Fatalf("expected field error, got frame %+v err %v", f, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, ok := f.(*Current); !ok {
				t.Fatalf("expected *Current, got %T", f)
			}
		})
	}
}

func TestParse_Sentinels(t *testing.T) {
	f, err := Parse(lineSentinels)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := f.(*Sensor)
	if s.Battery.Valid {
		t.Fatalf("expected -9.00 to decode as unset, got %+v", s.Battery)
	}
	if s.Pressure.Valid {
		t.Fatalf("expected -999 to decode as unset, got %+v", s.Pressure)
	}
	if s.AnalogIn1.Valid {
		t.Fatalf("expected empty field to decode as unset, got %+v", s.AnalogIn1)
	}
	if s.AnalogIn2 != Set(0) {
		t.Fatalf("expected literal 0 to decode as a valid zero, got %+v", s.AnalogIn2)
	}
}

func TestSentinelRule(t *testing.T) {
	tests := []struct {
		raw   string
		valid bool
	}{
		{"", false},
		{"-9", false},
		{"-9.00", false},
		{"-999", false},
		{"-99.9", false},
		{"0", true},
		{"-8.9", true},
		{"9", true},
		{"-0.9", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			r := &fieldReader{sentence: "TEST", fields: []string{tt.raw}}
			v := r.value(0, "x")
			if r.err != nil {
				t.Fatalf("unexpected field error: %v", r.err)
			}
			if v.Valid != tt.valid {
				t.Fatalf("expected valid=%v for %q, got %+v", tt.valid, tt.raw, v)
			}
		})
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	for _, line := range []string{lineConfiguration, lineSensor, lineCurrent, lineSentinels} {
		first, err := Parse(line)
		if err != nil {
			t.Fatalf("parse %q: %v", line, err)
		}
		encoded := Encode(first)
		second, err := Parse(encoded)
		if err != nil {
			t.Fatalf("re-parse %q: %v", encoded, err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("round trip mismatch for %q\nfirst:  %+v\nsecond: %+v", line, first, second)
		}
	}
}

func TestEncode_ProducesValidChecksum(t *testing.T) {
	f, err := Parse(lineConfiguration)
	if err != nil {
		t.Fatal(err)
	}
	if got := Encode(f); got != "$PNORI,4,Signature1000_100297,4,21,0.2,1,0*"+checksumHex(t, "PNORI,4,Signature1000_100297,4,21,0.2,1,0") {
		t.Fatalf("unexpected encoding %q", got)
	}
}

func checksumHex(t *testing.T, body string) string {
	t.Helper()
	const digits = "0123456789ABCDEF"
	cs := Checksum(body)
	return string([]byte{digits[cs>>4], digits[cs&0x0f]})
}

func TestParse_CorruptChecksumCharacter(t *testing.T) {
	for _, line := range []string{lineConfiguration, lineSensor, lineCurrent} {
		star := strings.LastIndexByte(line, '*')
		for pos := star + 1; pos < len(line); pos++ {
			for _, repl := range []byte("0123456789ABCDEFZ") {
				if repl == line[pos] {
					continue
				}
				corrupt := line[:pos] + string(repl) + line[pos+1:]
				_, err := Parse(corrupt)
				var ce *ChecksumError
				if !errors.As(err, &ce) {
					t.Fatalf("expected ChecksumError for %q, got %v", corrupt, err)
				}
				if Classify(err) != ClassChecksum {
					t.Fatalf("expected checksum class, got %s", Classify(err))
				}
			}
		}
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		class string
	}{
		{"missing checksum", "$PNORI,4,head,4,21,0.20,1.00,0", ClassChecksum},
		{"short checksum", "$PNORI,4,head,4,21,0.20,1.00,0*4", ClassChecksum},
		{"missing dollar", "PNORI,4,head*00", ClassField},
		{"unknown sentence", lineUnknown, ClassUnknown},
		{"too few fields", withChecksum("PNORI,4,head,4"), ClassField},
		{"too many fields", withChecksum("PNORI,4,head,4,21,0.20,1.00,0,7"), ClassField},
		{"not a number", withChecksum("PNORI,4,head,four,21,0.20,1.00,0"), ClassField},
		{"bad date", withChecksum("PNORS,133026,220800,0,0,1,1,1,1,1,1,1,1,1"), ClassField},
		{"bad hex", withChecksum("PNORS,010526,220800,XYZ,0,1,1,1,1,1,1,1,1,1"), ClassField},
		{"infinite", withChecksum("PNORI,4,head,Inf,21,0.20,1.00,0"), ClassField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse(tt.line)
			if err == nil {
				t.Fatalf("expected error, got frame %+v", f)
			}
			if got := Classify(err); got != tt.class {
				t.Fatalf("expected class %s, got %s (%v)", tt.class, got, err)
			}
		})
	}
}

func withChecksum(body string) string {
	return fmt.Sprintf("$%s*%02X", body, Checksum(body))
}

func TestParse_Deterministic(t *testing.T) {
	for _, line := range []string{lineSensor, lineUnknown, "$PNORI*00"} {
		f1, err1 := Parse(line)
		f2, err2 := Parse(line)
		if !reflect.DeepEqual(f1, f2) || !reflect.DeepEqual(err1, err2) {
			t.Fatalf("expected identical results for %q", line)
		}
	}
}

func TestValue_JSON(t *testing.T) {
	b, err := Set(1.5).MarshalJSON()
	if err != nil || string(b) != "1.5" {
		t.Fatalf("expected 1.5, got %s (%v)", b, err)
	}
	b, err = Unset.MarshalJSON()
	if err != nil || string(b) != "null" {
		t.Fatalf("expected null, got %s (%v)", b, err)
	}
}
