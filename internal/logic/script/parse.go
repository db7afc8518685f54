package script

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/PtzGo/internal/errs"
)

const opParse = "parse run file"

// maxWaitSec bounds delay_sec and duration_sec.
const maxWaitSec = 24 * 60 * 60

// Format is the encoding of a run file.
type Format int

const (
	FormatTOML Format = iota + 1
	FormatYAML
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatTOML:
		return "toml"
	case FormatYAML:
		return "yaml"
	case FormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return 0, fmt.Errorf("unsupported run file extension %q (want .toml, .yaml, .yml or .json)", filepath.Ext(path))
	}
}

// Load reads and parses a run file. All failures are ConfigErrors.
func Load(path string) (*RunConfig, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, errs.Config(opParse, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Config(opParse, err)
	}
	return Parse(data, format)
}

// Parse decodes and validates a run document.
func Parse(data []byte, format Format) (*RunConfig, error) {
	doc := map[string]interface{}{}
	var err error
	switch format {
	case FormatTOML:
		err = toml.Unmarshal(data, &doc)
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	case FormatJSON:
		err = json.Unmarshal(data, &doc)
	default:
		err = fmt.Errorf("unknown format %d", format)
	}
	if err != nil {
		return nil, errs.Configf(opParse, "decode %s: %w", format, err)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	rc, err := decodeRun(doc)
	if err != nil {
		return nil, errs.Config(opParse, err)
	}
	return rc, nil
}

// Sanitize keeps letters, digits, '-', '_' and spaces, trims the result
// and replaces inner spaces with '_'.
func Sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == ' ' {
			b.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(b.String()), " ", "_")
}

func decodeRun(doc map[string]interface{}) (*RunConfig, error) {
	name, err := stringField(doc, "name", "name")
	if err != nil {
		return nil, err
	}
	n, ok := name.Get()
	if !ok || strings.TrimSpace(n) == "" {
		return nil, fmt.Errorf("name is required")
	}
	folder := Sanitize(n)
	if folder == "" {
		return nil, fmt.Errorf("name %q has no usable characters (letters, digits, '-', '_', ' ')", n)
	}

	rawSteps, present := doc["steps"]
	if !present {
		return nil, fmt.Errorf("steps is required")
	}
	list, ok := rawSteps.([]interface{})
	if !ok {
		return nil, fmt.Errorf("steps must be a list of tables, got %s", typeName(rawSteps))
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("steps must not be empty")
	}

	rc := &RunConfig{Name: n, Folder: folder, Steps: make([]Step, 0, len(list))}
	seen := make(map[string]bool, len(list))
	for i, raw := range list {
		tbl, ok := asTable(raw)
		if !ok {
			return nil, fmt.Errorf("step %d: must be a table, got %s", i+1, typeName(raw))
		}
		step, err := decodeStep(tbl, i)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		step.Label = uniqueLabel(step.Label, seen)
		rc.Steps = append(rc.Steps, step)
	}
	return rc, nil
}

func decodeStep(tbl map[string]interface{}, index int) (Step, error) {
	var step Step

	fallback := fmt.Sprintf("step_%d", index+1)
	name, err := stringField(tbl, "name", "name")
	if err != nil {
		return step, err
	}
	step.Label = Sanitize(name.Or(""))
	if step.Label == "" {
		step.Label = fallback
	}

	delay, err := numberField(tbl, "delay_sec", "delay_sec")
	if err != nil {
		return step, err
	}
	if d, ok := delay.Get(); ok {
		if err := checkRange("delay_sec", d, 0, maxWaitSec); err != nil {
			return step, err
		}
		step.Delay = seconds(d)
	}

	if raw, ok := tbl["ptz"]; ok {
		ptzTbl, ok := asTable(raw)
		if !ok {
			return step, fmt.Errorf("ptz must be a table, got %s", typeName(raw))
		}
		cmd, err := decodePtz(ptzTbl)
		if err != nil {
			return step, err
		}
		step.PTZ = cmd
	}

	focus, err := decodeFocus(tbl)
	if err != nil {
		return step, err
	}
	if focus != nil && !focus.IsEmpty() {
		step.Focus = focus
	}
	return step, nil
}

func decodePtz(tbl map[string]interface{}) (*PtzCommand, error) {
	typ, err := stringField(tbl, "type", "ptz.type")
	if err != nil {
		return nil, err
	}
	t, ok := typ.Get()
	if !ok {
		return nil, fmt.Errorf("ptz.type is required (absolute, relative or continuous)")
	}
	kind, err := ParseMoveKind(t)
	if err != nil {
		return nil, fmt.Errorf("ptz.type: %w", err)
	}

	cmd := &PtzCommand{Kind: kind}
	nums := []struct {
		key string
		dst *Opt[float64]
	}{
		{"pan", &cmd.Pan},
		{"tilt", &cmd.Tilt},
		{"zoom", &cmd.Zoom},
		{"speed_pan", &cmd.SpeedPan},
		{"speed_tilt", &cmd.SpeedTilt},
		{"speed_zoom", &cmd.SpeedZoom},
	}
	for _, n := range nums {
		v, err := numberField(tbl, n.key, "ptz."+n.key)
		if err != nil {
			return nil, err
		}
		*n.dst = v
	}
	duration, err := numberField(tbl, "duration_sec", "ptz.duration_sec")
	if err != nil {
		return nil, err
	}

	zoomMin := -1.0
	if kind == MoveAbsolute {
		zoomMin = 0
	}
	axes := []struct {
		key      string
		v        Opt[float64]
		min, max float64
	}{
		{"pan", cmd.Pan, -1, 1},
		{"tilt", cmd.Tilt, -1, 1},
		{"zoom", cmd.Zoom, zoomMin, 1},
	}
	for _, a := range axes {
		if v, ok := a.v.Get(); ok {
			if err := checkRange("ptz."+a.key, v, a.min, a.max); err != nil {
				return nil, err
			}
		}
	}

	switch kind {
	case MoveContinuous:
		if cmd.HasSpeed() {
			return nil, fmt.Errorf("ptz.speed_* does not apply to continuous moves (pan/tilt/zoom are velocities)")
		}
		cmd.Duration = DefaultContinuousDuration
		if d, ok := duration.Get(); ok {
			if err := checkRange("ptz.duration_sec", d, 0, maxWaitSec); err != nil {
				return nil, err
			}
			cmd.Duration = seconds(d)
		}
	default:
		if duration.IsSet() {
			return nil, fmt.Errorf("ptz.duration_sec only applies to continuous moves")
		}
		speeds := []struct {
			key string
			v   Opt[float64]
		}{
			{"speed_pan", cmd.SpeedPan},
			{"speed_tilt", cmd.SpeedTilt},
			{"speed_zoom", cmd.SpeedZoom},
		}
		for _, s := range speeds {
			if v, ok := s.v.Get(); ok {
				if err := checkRange("ptz."+s.key, v, 0, 1); err != nil {
					return nil, err
				}
			}
		}
	}
	return cmd, nil
}

// decodeFocus accepts a nested "focus" table or the flat focus_* keys, not both.
func decodeFocus(step map[string]interface{}) (*FocusCommand, error) {
	flatKeys := []string{"focus_mode", "focus_default_speed", "focus_near_limit", "focus_far_limit"}
	hasFlat := false
	for _, k := range flatKeys {
		if _, ok := step[k]; ok {
			hasFlat = true
			break
		}
	}
	raw, hasNested := step["focus"]
	if hasFlat && hasNested {
		return nil, fmt.Errorf("focus given both as a focus table and as focus_* keys")
	}

	var (
		tbl    map[string]interface{}
		prefix string
		path   string
	)
	switch {
	case hasNested:
		t, ok := asTable(raw)
		if !ok {
			return nil, fmt.Errorf("focus must be a table, got %s", typeName(raw))
		}
		tbl, path = t, "focus."
	case hasFlat:
		tbl, prefix = step, "focus_"
	default:
		return nil, nil
	}

	f := &FocusCommand{}
	mode, err := stringField(tbl, prefix+"mode", path+prefix+"mode")
	if err != nil {
		return nil, err
	}
	if m, ok := mode.Get(); ok {
		switch fm := FocusMode(strings.ToUpper(strings.TrimSpace(m))); fm {
		case FocusAuto, FocusManual:
			f.Mode = Some(fm)
		default:
			return nil, fmt.Errorf("%s%smode: must be AUTO or MANUAL, got %q", path, prefix, m)
		}
	}

	limits := []struct {
		key      string
		dst      *Opt[float64]
		min, max float64
	}{
		{"default_speed", &f.DefaultSpeed, 0, math.MaxFloat64},
		{"near_limit", &f.NearLimit, 0, 300},
		{"far_limit", &f.FarLimit, 0, math.MaxFloat64},
	}
	for _, l := range limits {
		name := path + prefix + l.key
		v, err := numberField(tbl, prefix+l.key, name)
		if err != nil {
			return nil, err
		}
		if x, ok := v.Get(); ok {
			if err := checkRange(name, x, l.min, l.max); err != nil {
				return nil, err
			}
		}
		*l.dst = v
	}
	return f, nil
}

func uniqueLabel(label string, seen map[string]bool) string {
	if !seen[label] {
		seen[label] = true
		return label
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d", label, n)
		if !seen[candidate] {
			seen[candidate] = true
			return candidate
		}
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func checkRange(name string, v, min, max float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s must be a finite number, got %g", name, v)
	}
	if v < min || v > max {
		if max == math.MaxFloat64 {
			return fmt.Errorf("%s must be >= %g, got %g", name, min, v)
		}
		return fmt.Errorf("%s must be between %g and %g, got %g", name, min, max, v)
	}
	return nil
}

func stringField(tbl map[string]interface{}, key, name string) (Opt[string], error) {
	raw, ok := tbl[key]
	if !ok || raw == nil {
		return None[string](), nil
	}
	s, ok := raw.(string)
	if !ok {
		return None[string](), fmt.Errorf("%s must be a string, got %s", name, typeName(raw))
	}
	return Some(s), nil
}

func numberField(tbl map[string]interface{}, key, name string) (Opt[float64], error) {
	raw, ok := tbl[key]
	if !ok || raw == nil {
		return None[float64](), nil
	}
	f, ok := toFloat(raw)
	if !ok {
		return None[float64](), fmt.Errorf("%s must be a number, got %s", name, typeName(raw))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return None[float64](), fmt.Errorf("%s must be a finite number, got %g", name, f)
	}
	return Some(f), nil
}

func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case uint:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func asTable(raw interface{}) (map[string]interface{}, bool) {
	switch v := raw.(type) {
	case map[string]interface{}:
		return v, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func typeName(raw interface{}) string {
	switch raw.(type) {
	case nil:
		return "nothing"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case []interface{}:
		return "a list"
	case map[string]interface{}, map[interface{}]interface{}:
		return "a table"
	default:
		if _, ok := toFloat(raw); ok {
			return "a number"
		}
		return fmt.Sprintf("%T", raw)
	}
}
