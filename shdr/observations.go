package shdr

import (
	"strconv"
	"strings"

	"github.com/c360/semstreams-mtconnect/mtconnect"
)

// groupOrder is the wire order of observation groups.
var groupOrder = []mtconnect.Kind{
	mtconnect.KindSample,
	mtconnect.KindMessage,
	mtconnect.KindCondition,
	mtconnect.KindDataSet,
	mtconnect.KindTable,
	mtconnect.KindTimeSeries,
}

// FormatObservations renders a batch of observations into SHDR lines.
func FormatObservations(format Format, observations []mtconnect.Observation) ([]string, error) {
	if len(observations) == 0 {
		return nil, nil
	}

	groups := make(map[mtconnect.Kind][]mtconnect.Observation, len(groupOrder))
	for _, obs := range observations {
		if err := checkKey("FormatObservations", obs.Key()); err != nil {
			return nil, err
		}
		groups[obs.Kind()] = append(groups[obs.Kind()], obs)
	}

	var lines []string
	for _, kind := range groupOrder {
		group := groups[kind]
		if len(group) == 0 {
			continue
		}

		if kind == mtconnect.KindSample {
			dataLines, err := formatDataItems(format, group)
			if err != nil {
				return nil, err
			}
			lines = append(lines, dataLines...)
			continue
		}

		for _, obs := range group {
			line, err := formatSingle(format, obs)
			if err != nil {
				return nil, err
			}
			lines = append(lines, line)
		}
	}

	return lines, nil
}

// formatDataItems coalesces plain data items onto one line per distinct
// rendered timestamp, in order of first appearance.
func formatDataItems(format Format, items []mtconnect.Observation) ([]string, error) {
	var order []string
	builders := make(map[string]*strings.Builder)

	for _, obs := range items {
		value := Unavailable
		if !obs.Unavailable {
			if s, ok := obs.Value.(mtconnect.Sample); ok {
				value = s.Value
			} else {
				value = ""
			}
		}
		if err := checkField("FormatObservations", obs.Key(), value); err != nil {
			return nil, err
		}

		ts := format.Timestamp(obs.Timestamp)
		b, ok := builders[ts]
		if !ok {
			b = &strings.Builder{}
			b.WriteString(ts)
			builders[ts] = b
			order = append(order, ts)
		}
		b.WriteByte('|')
		b.WriteString(obs.Key())
		b.WriteByte('|')
		b.WriteString(value)
	}

	lines := make([]string, 0, len(order))
	for _, ts := range order {
		lines = append(lines, builders[ts].String())
	}
	return lines, nil
}

func formatSingle(format Format, obs mtconnect.Observation) (string, error) {
	key := obs.Key()
	fields := []string{format.Timestamp(obs.Timestamp), key}

	switch v := obs.Value.(type) {
	case mtconnect.Message:
		if obs.Unavailable {
			fields = append(fields, "", Unavailable)
			break
		}
		fields = append(fields, v.NativeCode, v.Text)

	case mtconnect.Condition:
		if obs.Unavailable {
			fields = append(fields, Unavailable, "", "", "", "")
			break
		}
		level := string(v.Level)
		if level == "" {
			level = string(mtconnect.LevelNormal)
		}
		fields = append(fields, level, v.NativeCode, v.NativeSeverity, v.Qualifier, v.Message)

	case mtconnect.DataSet:
		if obs.Unavailable {
			fields = append(fields, Unavailable)
			break
		}
		body, err := formatEntries(key, v.Entries)
		if err != nil {
			return "", err
		}
		fields = append(fields, withReset(v.Reset, body))

	case mtconnect.Table:
		if obs.Unavailable {
			fields = append(fields, Unavailable)
			break
		}
		body, err := formatRows(key, v.Rows)
		if err != nil {
			return "", err
		}
		fields = append(fields, withReset(v.Reset, body))

	case mtconnect.TimeSeries:
		if obs.Unavailable {
			fields = append(fields, Unavailable)
			break
		}
		rate := ""
		if v.SampleRate > 0 {
			rate = formatFloat(v.SampleRate)
		}
		fields = append(fields, strconv.Itoa(len(v.Samples)), rate, formatSamples(v.Samples))

	default:
		return "", renderError("FormatObservations", "unsupported value for %q", key)
	}

	for _, f := range fields[2:] {
		if err := checkField("FormatObservations", key, f); err != nil {
			return "", err
		}
	}
	return strings.Join(fields, "|"), nil
}

func withReset(reset bool, body string) string {
	if reset {
		return resetPrefix + body
	}
	return body
}

// formatEntries renders k=v pairs separated by spaces. Values holding
// whitespace are wrapped in braces.
func formatEntries(key string, entries []mtconnect.Entry) (string, error) {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Key == "" || strings.ContainsAny(e.Key, "= {}") {
			return "", renderError("FormatObservations", "invalid entry key %q in %q", e.Key, key)
		}
		if e.Removed {
			parts = append(parts, e.Key)
			continue
		}
		if strings.ContainsAny(e.Value, "{}") {
			return "", renderError("FormatObservations", "entry %q of %q contains a brace", e.Key, key)
		}
		value := e.Value
		if strings.ContainsAny(value, " \t") {
			value = "{" + value + "}"
		}
		parts = append(parts, e.Key+"="+value)
	}
	return strings.Join(parts, " "), nil
}

func formatRows(key string, rows []mtconnect.TableRow) (string, error) {
	parts := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.Key == "" || strings.ContainsAny(row.Key, "= {}") {
			return "", renderError("FormatObservations", "invalid row key %q in %q", row.Key, key)
		}
		if row.Removed {
			parts = append(parts, row.Key)
			continue
		}
		cells, err := formatEntries(key, row.Cells)
		if err != nil {
			return "", err
		}
		parts = append(parts, row.Key+"={"+cells+"}")
	}
	return strings.Join(parts, " "), nil
}

func formatSamples(samples []float64) string {
	parts := make([]string, len(samples))
	for i, s := range samples {
		parts[i] = formatFloat(s)
	}
	return strings.Join(parts, " ")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
