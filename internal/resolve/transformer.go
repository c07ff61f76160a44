package resolve

import "reflect"

// boolTransformer makes mergo override with explicit false values: mergo's
// default "empty value never overrides" rule would otherwise silently drop
// an override that turns a default-true flag off.
type boolTransformer struct{}

func (boolTransformer) Transformer(typ reflect.Type) func(dst, src reflect.Value) error {
	var b bool
	if typ == reflect.TypeOf(b) {
		return func(dst, src reflect.Value) error {
			if dst.CanSet() {
				dst.SetBool(src.Interface().(bool)) //nolint:forcetypeassert
			}
			return nil
		}
	}
	return nil
}
