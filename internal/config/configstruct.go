// Package config implements the struct-tag + defaults convention the
// teacher's fs/config/configstruct package uses: an Options struct's
// fields are addressed by a snake_case name (or an explicit
// `config:"name"` tag), walked with Items and populated from a
// key/value Getter with Set, the same shape every backend.Options
// struct in the pack is read into.
package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Getter looks up a raw string value for a config key, the same
// interface a configmap.Simple or an environment-backed map satisfies
// in the teacher.
type Getter interface {
	Get(key string) (value string, ok bool)
}

// Item describes one addressable field found by Items.
type Item struct {
	Name  string // the snake_case (or tag-given) key
	Field string // the Go struct field name
	Value any    // the field's current value
	Set   func(value any) // assigns a parsed value back into the struct
}

// Items walks a pointer to a struct and returns one Item per leaf
// field (embedded structs are flattened in place with no prefix;
// named struct-typed fields are flattened with "<tag_or_name>_"
// prefixed onto each of their own field names), mirroring the
// teacher's recursive behaviour.
func Items(in any) ([]Item, error) {
	v := reflect.ValueOf(in)
	if v.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("argument must be a pointer")
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("argument must be a pointer to a struct")
	}
	return items("", v), nil
}

func items(prefix string, v reflect.Value) []Item {
	t := v.Type()
	var out []Item
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)
		name, hasTag := field.Tag.Lookup("config")
		if field.Anonymous && !hasTag {
			if fv.Kind() == reflect.Struct {
				out = append(out, items(prefix, fv)...)
				continue
			}
		}
		if !field.IsExported() {
			continue
		}
		if fv.Kind() == reflect.Struct && isPlainStruct(fv.Type()) {
			sub := name
			if sub == "" {
				sub = toSnakeCase(field.Name)
			}
			out = append(out, items(prefix+sub+"_", fv)...)
			continue
		}
		if name == "" {
			name = toSnakeCase(field.Name)
		}
		out = append(out, Item{
			Name:  prefix + name,
			Field: field.Name,
			Value: fv.Interface(),
			Set:   func(fv reflect.Value) func(any) { return func(val any) { fv.Set(reflect.ValueOf(val)) } }(fv),
		})
	}
	return out
}

// isPlainStruct reports whether t should be recursed into rather than
// treated as a leaf value; time.Time is a leaf, every other struct is
// recursed into.
func isPlainStruct(t reflect.Type) bool {
	if t == reflect.TypeOf(time.Time{}) {
		return false
	}
	return t.Kind() == reflect.Struct
}

func toSnakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Set reads every Item's key out of g (when present) and assigns the
// parsed value back into in.
func Set(g Getter, in any) error {
	items, err := Items(in)
	if err != nil {
		return err
	}
	for _, item := range items {
		raw, ok := g.Get(item.Name)
		if !ok {
			continue
		}
		parsed, err := StringToInterface(item.Value, raw)
		if err != nil {
			return fmt.Errorf("couldn't parse config item %q = %q as %T: %w", item.Name, raw, item.Value, err)
		}
		item.Set(parsed)
	}
	return nil
}

// StringToInterface parses in as the same type as def, the way the
// teacher's configstruct.StringToInterface dispatches on def's
// reflect.Kind.
func StringToInterface(def any, in string) (any, error) {
	typ := reflect.TypeOf(def)
	switch d := def.(type) {
	case time.Duration:
		_ = d
		dur, err := time.ParseDuration(in)
		if err != nil {
			return nil, fmt.Errorf("parsing %q as time.Duration failed: %w", in, err)
		}
		return dur, nil
	}
	switch typ.Kind() {
	case reflect.String:
		return in, nil
	case reflect.Bool:
		b, err := strconv.ParseBool(in)
		if err != nil {
			return nil, fmt.Errorf("parsing %q as bool failed: %w", in, err)
		}
		return b, nil
	case reflect.Int:
		n, err := strconv.ParseInt(strings.TrimSpace(in), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %q as int failed: %w", in, err)
		}
		return int(n), nil
	case reflect.Int64:
		n, err := strconv.ParseInt(strings.TrimSpace(in), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %q as int64 failed: %w", in, err)
		}
		return n, nil
	case reflect.Uint:
		n, err := strconv.ParseUint(strings.TrimSpace(in), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %q as uint failed: %w", in, err)
		}
		return uint(n), nil
	default:
		return nil, fmt.Errorf("parsing %q as %s failed: don't know how to parse this type", in, typ)
	}
}
