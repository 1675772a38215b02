// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package process

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Bind defines a flag for every tagged field of the config struct and keeps
// the struct fields updated as the flags change. Nested structs contribute a
// dotted prefix, so a field Retry.MaxRetries binds as retry.max-retries.
//
// Recognized tags are help, default, hidden and setup. Binding an unsupported
// field type panics, as misbinding is a programming error.
func Bind(cmd *cobra.Command, config interface{}) {
	ptr := reflect.ValueOf(config)
	if ptr.Kind() != reflect.Ptr || ptr.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("invalid config type: %#v, expecting pointer to struct", config))
	}
	bindStruct(cmd.Flags(), ptr.Elem(), "")
}

func bindStruct(flags *pflag.FlagSet, structVal reflect.Value, prefix string) {
	structType := structVal.Type()
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		value := structVal.Field(i)
		if field.PkgPath != "" {
			continue
		}

		if value.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if field.Anonymous {
				bindStruct(flags, value, prefix)
			} else {
				bindStruct(flags, value, prefix+hyphenate(snakeCase(field.Name))+".")
			}
			continue
		}

		bindField(flags, field, value, prefix+hyphenate(snakeCase(field.Name)))
	}
}

func bindField(flags *pflag.FlagSet, field reflect.StructField, value reflect.Value, name string) {
	help := field.Tag.Get("help")
	def := field.Tag.Get("default")

	switch addr := value.Addr().Interface().(type) {
	case *string:
		flags.StringVar(addr, name, def, help)
	case *bool:
		flags.BoolVar(addr, name, parseDefault(name, def, false, strconv.ParseBool), help)
	case *int:
		flags.IntVar(addr, name, parseDefault(name, def, 0, strconv.Atoi), help)
	case *int64:
		flags.Int64Var(addr, name, parseDefault(name, def, int64(0), func(v string) (int64, error) {
			return strconv.ParseInt(v, 10, 64)
		}), help)
	case *uint:
		flags.UintVar(addr, name, parseDefault(name, def, uint(0), func(v string) (uint, error) {
			parsed, err := strconv.ParseUint(v, 10, 64)
			return uint(parsed), err
		}), help)
	case *uint64:
		flags.Uint64Var(addr, name, parseDefault(name, def, uint64(0), func(v string) (uint64, error) {
			return strconv.ParseUint(v, 10, 64)
		}), help)
	case *float64:
		flags.Float64Var(addr, name, parseDefault(name, def, 0, func(v string) (float64, error) {
			return strconv.ParseFloat(v, 64)
		}), help)
	case *time.Duration:
		flags.DurationVar(addr, name, parseDefault(name, def, 0, time.ParseDuration), help)
	default:
		panic(fmt.Sprintf("invalid field type %v for flag %q", field.Type, name))
	}

	if field.Tag.Get("hidden") == "true" {
		mustFlag(flags.MarkHidden(name))
	}
	if field.Tag.Get("setup") == "true" {
		mustFlag(flags.SetAnnotation(name, "setup", []string{"true"}))
	}
}

func parseDefault[T any](name, def string, zero T, parse func(string) (T, error)) T {
	if def == "" {
		return zero
	}
	parsed, err := parse(def)
	if err != nil {
		panic(fmt.Sprintf("invalid default for flag %q: %v", name, err))
	}
	return parsed
}

func mustFlag(err error) {
	if err != nil {
		panic(err)
	}
}

func hyphenate(val string) string {
	return strings.ReplaceAll(val, "_", "-")
}

func snakeCase(val string) string {
	if len(val) <= 1 {
		return strings.ToLower(val)
	}
	runes := []rune(val)
	rv := make([]rune, 0, len(runes))
	for i := 0; i < len(runes); i++ {
		rv = append(rv, runes[i])
		if i < len(runes)-1 &&
			unicode.IsLower(runes[i]) &&
			unicode.IsUpper(runes[i+1]) {
			// lower to upper transition
			rv = append(rv, '_')
		} else if i < len(runes)-2 &&
			unicode.IsUpper(runes[i]) &&
			unicode.IsUpper(runes[i+1]) &&
			unicode.IsLower(runes[i+2]) {
			// end of an acronym
			rv = append(rv, '_')
		}
	}
	return strings.ToLower(string(rv))
}
