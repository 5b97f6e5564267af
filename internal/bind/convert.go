package bind

import (
	"fmt"
	"net/url"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
)

var urlType = reflect.TypeOf(url.URL{})

// convert decodes the string value into field, which must be addressable.
// On failure the field keeps its previous value.
func convert(value string, field reflect.Value) error {
	if !field.CanAddr() {
		return fmt.Errorf("field of type %s is not addressable", field.Type())
	}

	// Decode into a scratch value so a failed conversion leaves the
	// property untouched.
	scratch := reflect.New(field.Type())
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToURLHook,
		),
		Result: scratch.Interface(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(value); err != nil {
		return err
	}
	field.Set(scratch.Elem())
	return nil
}

// stringToURLHook parses strings destined for url.URL (or *url.URL, which
// mapstructure resolves through the element type).
func stringToURLHook(f reflect.Type, t reflect.Type, data any) (any, error) {
	if f.Kind() != reflect.String || t != urlType {
		return data, nil
	}
	u, err := url.Parse(data.(string))
	if err != nil {
		return nil, err
	}
	return *u, nil
}
