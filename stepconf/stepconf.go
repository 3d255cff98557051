// Package stepconf parses configuration structs from environment variables
// using `env:"name,constraint"` struct tags.
package stepconf

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// ErrNotStructPtr is returned when the config to parse is not a pointer to a struct.
var ErrNotStructPtr = errors.New("config must be a pointer to a struct")

// Secret is a string with sensitive content. It never appears in logs.
type Secret string

const secretMask = "*****"

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return secretMask
}

// EnvGetter ...
type EnvGetter interface {
	Get(key string) string
}

// ParseError occurs when a struct field cannot be populated from its env var.
type ParseError struct {
	Field string
	Value string
	Err   error
}

// Error ...
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse config: invalid value for field %s: %q: %s", e.Field, e.Value, e.Err)
}

func parse(input interface{}, envGetter EnvGetter) error {
	v := reflect.ValueOf(input)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return ErrNotStructPtr
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return ErrNotStructPtr
	}

	t := v.Type()
	var errs []error
	for i := 0; i < t.NumField(); i++ {
		tag, ok := t.Field(i).Tag.Lookup("env")
		if !ok {
			continue
		}
		key, constraint := parseTag(tag)
		value := envGetter.Get(key)

		if err := validateConstraint(value, constraint); err != nil {
			errs = append(errs, &ParseError{Field: t.Field(i).Name, Value: value, Err: err})
			continue
		}
		if value == "" {
			continue
		}
		if err := setField(v.Field(i), value); err != nil {
			errs = append(errs, &ParseError{Field: t.Field(i).Name, Value: value, Err: err})
		}
	}
	return errors.Join(errs...)
}

func parseTag(tag string) (key, constraint string) {
	if i := strings.Index(tag, ","); i >= 0 {
		return tag[:i], tag[i+1:]
	}
	return tag, ""
}

func validateConstraint(value, constraint string) error {
	switch {
	case constraint == "":
		return nil
	case constraint == "required":
		if value == "" {
			return errors.New("required variable is not present")
		}
		return nil
	case strings.HasPrefix(constraint, "opt[") && strings.HasSuffix(constraint, "]"):
		if value == "" {
			return errors.New("value is not in value options")
		}
		for _, option := range strings.Split(constraint[4:len(constraint)-1], ",") {
			if value == strings.Trim(option, "'") {
				return nil
			}
		}
		return fmt.Errorf("value is not in value options: %s", constraint)
	default:
		return fmt.Errorf("unknown constraint: %s", constraint)
	}
}

func setField(field reflect.Value, value string) error {
	if field.Kind() == reflect.Ptr {
		field.Set(reflect.New(field.Type().Elem()))
		field = field.Elem()
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return errors.New("can't convert to bool")
		}
		field.SetBool(parsed)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		parsed, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return errors.New("can't convert to int")
		}
		field.SetInt(parsed)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("type is not supported: %s", field.Type())
		}
		field.Set(reflect.ValueOf(strings.Split(value, "|")))
	default:
		return fmt.Errorf("type is not supported: %s", field.Kind())
	}
	return nil
}
