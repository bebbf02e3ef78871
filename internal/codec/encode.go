package codec

import (
	"fmt"
	"strconv"
	"strings"
)

// Encode renders f as a checksummed sentence without a line terminator.
// Unset values are written as the -9 sentinel.
func Encode(f Frame) string {
	var fields []string
	switch v := f.(type) {
	case *Configuration:
		fields = []string{
			formatValue(v.InstrumentType), v.HeadID, formatValue(v.Beams), formatValue(v.Cells),
			formatValue(v.BlankingDistance), formatValue(v.CellSize), formatValue(v.CoordinateSystem),
		}
	case *Sensor:
		fields = []string{
			v.Time.Format("010206"), v.Time.Format("150405"), v.ErrorCode, v.StatusCode,
			formatValue(v.Battery), formatValue(v.SoundSpeed), formatValue(v.Heading),
			formatValue(v.Pitch), formatValue(v.Roll), formatValue(v.Pressure),
			formatValue(v.Temperature), formatValue(v.AnalogIn1), formatValue(v.AnalogIn2),
		}
	case *Current:
		fields = []string{v.Time.Format("010206"), v.Time.Format("150405"), formatValue(v.Cell)}
		fields = appendValues(fields, v.Velocity)
		fields = append(fields, formatValue(v.Speed), formatValue(v.Direction), v.AmplitudeUnit)
		fields = appendValues(fields, v.Amplitude)
		fields = appendValues(fields, v.Correlation)
	}
	body := f.sentenceID() + "," + strings.Join(fields, ",")
	return fmt.Sprintf("$%s*%02X", body, Checksum(body))
}

func formatValue(v Value) string {
	if !v.Valid {
		return sentinelPrefix
	}
	return strconv.FormatFloat(v.Float, 'f', -1, 64)
}

func appendValues(dst []string, vs [4]Value) []string {
	for _, v := range vs {
		dst = append(dst, formatValue(v))
	}
	return dst
}
