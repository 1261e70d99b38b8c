// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package helpers

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-viper/mapstructure/v2"
)

var mapstructureUnmarshallerHookFuncs = []mapstructure.DecodeHookFunc{}

// RegisterMapstructureUnmarshallerHook registers a decode hook used by
// every configuration decoder. Only call it from init().
func RegisterMapstructureUnmarshallerHook(hook mapstructure.DecodeHookFunc) {
	mapstructureUnmarshallerHookFuncs = append(mapstructureUnmarshallerHookFuncs, hook)
}

// GetMapStructureDecoderConfig returns the mapstructure configuration
// used to decode configuration files into config. Unknown keys are
// errors. Extra hooks run before the registered ones.
func GetMapStructureDecoderConfig(config interface{}, hooks ...mapstructure.DecodeHookFunc) *mapstructure.DecoderConfig {
	return &mapstructure.DecoderConfig{
		Result:           config,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		MatchName:        MapStructureMatchName,
		DecodeHook: ProtectedDecodeHookFunc(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.ComposeDecodeHookFunc(hooks...),
				mapstructure.ComposeDecodeHookFunc(mapstructureUnmarshallerHookFuncs...),
				mapstructure.TextUnmarshallerHookFunc(),
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		),
	}
}

// ProtectedDecodeHookFunc wraps a decode hook to turn a panic into an error.
func ProtectedDecodeHookFunc(hook mapstructure.DecodeHookFunc) mapstructure.DecodeHookFunc {
	return func(from, to reflect.Value) (result interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				result, err = nil, fmt.Errorf("internal error while parsing: %s", r)
			}
		}()
		return mapstructure.DecodeHookExec(hook, from, to)
	}
}

// MapStructureMatchName matches a configuration key with a field name.
// Case and dashes are ignored.
func MapStructureMatchName(mapKey, fieldName string) bool {
	return strings.EqualFold(strings.ReplaceAll(mapKey, "-", ""), fieldName)
}

// ParametrizedConfigurationUnmarshallerHook decodes an outer configuration
// structure whose "Config" field holds an inner configuration selected by
// the "type" key. Keys matching a field of the outer structure are left
// as is, other keys are moved below "config". innerConfigurationMap maps
// each type to a function returning its default configuration. Without a
// "type" key, the current inner configuration is updated in place.
func ParametrizedConfigurationUnmarshallerHook[OuterConfiguration any, InnerConfiguration any](zeroOuterConfiguration OuterConfiguration, innerConfigurationMap map[string](func() InnerConfiguration)) mapstructure.DecodeHookFunc {
	outerType := reflect.TypeOf(zeroOuterConfiguration)
	return func(from, to reflect.Value) (interface{}, error) {
		if to.Type() != outerType {
			return from.Interface(), nil
		}
		if from.Kind() != reflect.Map {
			return nil, errors.New("configuration should be a map")
		}
		innerType, innerRaw, err := splitParametrizedConfiguration(from, outerType)
		if err != nil {
			return nil, err
		}

		configField := to.FieldByName("Config")
		if innerType == "" && !configField.IsNil() {
			innerType = parametrizedType(innerConfigurationMap, configField.Elem().Type())
		}
		if innerType == "" {
			return nil, errors.New("configuration has no type")
		}
		newInner, ok := innerConfigurationMap[innerType]
		if !ok {
			return nil, fmt.Errorf("%q is not a known type (valid types: %s)",
				innerType, strings.Join(slices.Sorted(maps.Keys(innerConfigurationMap)), ", "))
		}

		// Decode on top of a copy of the current configuration when the
		// type does not change, on top of the defaults otherwise.
		base := reflect.Indirect(reflect.ValueOf(newInner()))
		if !configField.IsNil() && configField.Elem().Type() == reflect.TypeOf(newInner()) {
			base = reflect.Indirect(configField.Elem())
		}
		copied := reflect.New(base.Type())
		copied.Elem().Set(base)
		configField.Set(copied)

		from.SetMapIndex(reflect.ValueOf("config"), innerRaw)
		return from.Interface(), nil
	}
}

// splitParametrizedConfiguration extracts the type and the keys that do
// not belong to the outer configuration from a raw configuration. They
// are removed from the raw configuration.
func splitParametrizedConfiguration(from reflect.Value, outerType reflect.Type) (string, reflect.Value, error) {
	var innerType string
	innerRaw := reflect.ValueOf(gin.H{})
	outerFields := reflect.VisibleFields(outerType)
	for _, key := range from.MapKeys() {
		// YAML may unmarshal keys to interfaces
		name := ElemOrIdentity(key)
		if name.Kind() != reflect.String {
			continue
		}
		switch strings.ToLower(name.String()) {
		case "type":
			value := ElemOrIdentity(from.MapIndex(key))
			if value.Kind() != reflect.String {
				return "", reflect.Value{}, fmt.Errorf("type should be a string not %s", value.Kind())
			}
			innerType = strings.ToLower(value.String())
		case "config":
			return "", reflect.Value{}, errors.New("configuration should not have a `config' key")
		default:
			if slices.ContainsFunc(outerFields, func(f reflect.StructField) bool {
				return MapStructureMatchName(name.String(), f.Name)
			}) {
				continue
			}
			innerRaw.SetMapIndex(reflect.ValueOf(name.String()), from.MapIndex(key))
		}
		from.SetMapIndex(key, reflect.Value{})
	}
	return innerType, innerRaw, nil
}

// ParametrizedConfigurationMarshalYAML flattens an outer configuration
// and its inner configuration into a single map with a "type" key.
func ParametrizedConfigurationMarshalYAML[OuterConfiguration any, InnerConfiguration any](oc OuterConfiguration, innerConfigurationMap map[string](func() InnerConfiguration)) (interface{}, error) {
	result := gin.H{}
	var inner reflect.Value
	outer := ElemOrIdentity(reflect.ValueOf(oc))
	for _, field := range reflect.VisibleFields(outer.Type()) {
		if field.Anonymous || !field.IsExported() {
			continue
		}
		value := outer.FieldByIndex(field.Index)
		if field.Name == "Config" {
			inner = reflect.Indirect(value.Elem())
			continue
		}
		result[strings.ToLower(field.Name)] = value.Interface()
	}
	if !inner.IsValid() {
		return nil, errors.New("no configuration to marshal")
	}
	innerType := parametrizedType(innerConfigurationMap, inner.Type())
	if innerType == "" {
		return nil, errors.New("unable to guess configuration type")
	}
	result["type"] = innerType
	for _, field := range reflect.VisibleFields(inner.Type()) {
		if field.Anonymous || !field.IsExported() {
			continue
		}
		result[strings.ToLower(field.Name)] = inner.FieldByIndex(field.Index).Interface()
	}
	return result, nil
}

// parametrizedType returns the type name whose default configuration
// has the provided type (or a pointer to it).
func parametrizedType[InnerConfiguration any](innerConfigurationMap map[string](func() InnerConfiguration), t reflect.Type) string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	for name, newInner := range innerConfigurationMap {
		candidate := reflect.TypeOf(newInner())
		if candidate.Kind() == reflect.Pointer {
			candidate = candidate.Elem()
		}
		if candidate == t {
			return name
		}
	}
	return ""
}
