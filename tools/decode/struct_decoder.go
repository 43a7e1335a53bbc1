package decode

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"

	"PRelay/tools/errs"

	"github.com/mitchellh/mapstructure"
)

type Options struct {
	// WeaklyTypedInput lets "8" fill an int and "true" a bool; environment
	// overrides arrive as strings and depend on it.
	WeaklyTypedInput bool
	TagName          string
	ErrorUnused      bool
}

func DefaultOptions() Options {
	return Options{
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	}
}

// DecodeInto decodes m over an existing value. Keys absent from m leave the
// corresponding fields untouched, which is how defaults survive overrides.
func DecodeInto(m map[string]any, out any, opts ...Options) error {
	if m == nil {
		return errs.New("decode: nil map")
	}
	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
		if cfg.TagName == "" {
			cfg.TagName = "mapstructure"
		}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          cfg.TagName,
		Result:           out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		ErrorUnused:      cfg.ErrorUnused,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			floatToIntHook(),
			mapstructure.StringToTimeDurationHookFunc(),
			commaListHook(),
			anySliceToStringsHook(),
		),
	})
	if err != nil {
		return errs.WrapMsg(err, "decode: new decoder")
	}
	if err := dec.Decode(m); err != nil {
		return errs.WrapMsg(err, "decode: struct")
	}
	return nil
}

// ReadString reads key as a string, accepting the scalar types a JSON
// decoder produces.
func ReadString(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", errs.New("missing field", "key", key)
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", errs.New("field is not a string", "key", key, "type", reflect.TypeOf(v).String())
	}
}

// JSON numbers decode as float64.
func floatToIntHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.Float64 {
			return data, nil
		}
		f := data.(float64)
		switch to {
		case reflect.Int:
			return int(f), nil
		case reflect.Int16:
			return int16(f), nil
		case reflect.Int32:
			return int32(f), nil
		case reflect.Int64:
			return int64(f), nil
		}
		return data, nil
	}
}

// commaListHook splits "a, b" into []string{"a", "b"}.
func commaListHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}
		out := []string{}
		for _, part := range strings.Split(data.(string), ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	}
}

func anySliceToStringsHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.Slice || to != reflect.TypeOf([]string{}) {
			return data, nil
		}
		src, ok := data.([]any)
		if !ok {
			return data, nil
		}
		out := make([]string, 0, len(src))
		for _, it := range src {
			switch v := it.(type) {
			case string:
				out = append(out, v)
			case json.Number:
				out = append(out, v.String())
			default:
				b, _ := json.Marshal(v)
				out = append(out, string(b))
			}
		}
		return out, nil
	}
}
