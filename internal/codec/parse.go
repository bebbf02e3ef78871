package codec

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	sentenceConfiguration = "PNORI"
	sentenceSensor        = "PNORS"
	sentenceCurrent       = "PNORC"

	configurationFields = 7
	sensorFields        = 13
	currentFields       = 18

	sentinelPrefix = "-9"
	stampLayout    = "010206150405"
)

// Checksum returns the exclusive-or of every byte in body.
func Checksum(body string) byte {
	var cs byte
	for i := 0; i < len(body); i++ {
		cs ^= body[i]
	}
	return cs
}

// Parse decodes one raw line into a Frame. It is pure: identical input
// always yields the identical Frame or error.
func Parse(line string) (Frame, error) {
	line = strings.TrimSpace(line)
	start := strings.IndexByte(line, '$')
	if start < 0 {
		return nil, &FieldError{Sentence: "?", Reason: "missing $ delimiter"}
	}
	line = line[start:]

	star := strings.LastIndexByte(line, '*')
	if star < 0 {
		return nil, &ChecksumError{}
	}
	body, received := line[1:star], line[star+1:]
	computed := Checksum(body)
	if !checksumMatches(received, computed) {
		return nil, &ChecksumError{Received: received, Computed: computed}
	}

	fields := strings.Split(body, ",")
	id, fields := fields[0], fields[1:]
	switch id {
	case sentenceConfiguration:
		return parseConfiguration(fields)
	case sentenceSensor:
		return parseSensor(fields)
	case sentenceCurrent:
		return parseCurrent(fields)
	default:
		return nil, &UnknownSentenceError{ID: id}
	}
}

func checksumMatches(received string, computed byte) bool {
	if len(received) != 2 {
		return false
	}
	v, err := strconv.ParseUint(received, 16, 8)
	return err == nil && byte(v) == computed
}

// fieldReader decodes positional fields and keeps the first error.
type fieldReader struct {
	sentence string
	fields   []string
	err      *FieldError
}

func newFieldReader(sentence string, fields []string, want int) (*fieldReader, error) {
	if len(fields) != want {
		return nil, &FieldError{
			Sentence: sentence,
			Reason:   "expected " + strconv.Itoa(want) + " fields, got " + strconv.Itoa(len(fields)),
		}
	}
	return &fieldReader{sentence: sentence, fields: fields}, nil
}

func (r *fieldReader) fail(name, value, reason string) {
	if r.err == nil {
		r.err = &FieldError{Sentence: r.sentence, Field: name, Value: value, Reason: reason}
	}
}

func (r *fieldReader) text(i int) string {
	return strings.TrimSpace(r.fields[i])
}

// value applies the sentinel rule: empty or -9 prefixed fields are unset.
func (r *fieldReader) value(i int, name string) Value {
	raw := r.text(i)
	if raw == "" || strings.HasPrefix(raw, sentinelPrefix) {
		return Unset
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		r.fail(name, raw, "not a number")
		return Unset
	}
	return Set(f)
}

func (r *fieldReader) hex(i int, name string) string {
	raw := r.text(i)
	for _, c := range raw {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			r.fail(name, raw, "not hexadecimal")
			return ""
		}
	}
	return raw
}

func (r *fieldReader) stamp(dateIdx, timeIdx int) time.Time {
	date, clock := r.text(dateIdx), r.text(timeIdx)
	if len(date) != 6 {
		r.fail("date", date, "expected MMDDYY")
		return time.Time{}
	}
	if len(clock) != 6 {
		r.fail("time", clock, "expected hhmmss")
		return time.Time{}
	}
	t, err := time.ParseInLocation(stampLayout, date+clock, time.UTC)
	if err != nil {
		r.fail("date", date+clock, "invalid date or time")
		return time.Time{}
	}
	return t
}

func (r *fieldReader) values(from int, names ...string) [4]Value {
	var out [4]Value
	for i := range out {
		out[i] = r.value(from+i, names[i])
	}
	return out
}

func (r *fieldReader) result(f Frame) (Frame, error) {
	if r.err != nil {
		return nil, r.err
	}
	return f, nil
}

func parseConfiguration(fields []string) (Frame, error) {
	r, err := newFieldReader(sentenceConfiguration, fields, configurationFields)
	if err != nil {
		return nil, err
	}
	c := &Configuration{
		InstrumentType:   r.value(0, "instrument_type"),
		HeadID:           r.text(1),
		Beams:            r.value(2, "beams"),
		Cells:            r.value(3, "cells"),
		BlankingDistance: r.value(4, "blanking_distance"),
		CellSize:         r.value(5, "cell_size"),
		CoordinateSystem: r.value(6, "coordinate_system"),
	}
	return r.result(c)
}

func parseSensor(fields []string) (Frame, error) {
	r, err := newFieldReader(sentenceSensor, fields, sensorFields)
	if err != nil {
		return nil, err
	}
	s := &Sensor{
		Time:        r.stamp(0, 1),
		ErrorCode:   r.hex(2, "error_code"),
		StatusCode:  r.hex(3, "status_code"),
		Battery:     r.value(4, "battery_voltage"),
		SoundSpeed:  r.value(5, "sound_speed"),
		Heading:     r.value(6, "heading"),
		Pitch:       r.value(7, "pitch"),
		Roll:        r.value(8, "roll"),
		Pressure:    r.value(9, "pressure"),
		Temperature: r.value(10, "temperature"),
		AnalogIn1:   r.value(11, "analog_in_1"),
		AnalogIn2:   r.value(12, "analog_in_2"),
	}
	return r.result(s)
}

func parseCurrent(fields []string) (Frame, error) {
	r, err := newFieldReader(sentenceCurrent, fields, currentFields)
	if err != nil {
		return nil, err
	}
	c := &Current{
		Time:          r.stamp(0, 1),
		Cell:          r.value(2, "cell_number"),
		Velocity:      r.values(3, "velocity_1", "velocity_2", "velocity_3", "velocity_4"),
		Speed:         r.value(7, "speed"),
		Direction:     r.value(8, "direction"),
		AmplitudeUnit: r.text(9),
		Amplitude:     r.values(10, "amplitude_1", "amplitude_2", "amplitude_3", "amplitude_4"),
		Correlation:   r.values(14, "correlation_1", "correlation_2", "correlation_3", "correlation_4"),
	}
	return r.result(c)
}
