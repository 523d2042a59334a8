package models

import "reflect"

// Diff returns the diff-tag names of the fields whose values differ between
// a and b, in declaration order. Only fields tagged `diff:"name"` take part;
// ids, timestamps and sync metadata are ignored.
func Diff[T any](a, b T) []string {
	va := reflect.Indirect(reflect.ValueOf(&a).Elem())
	vb := reflect.Indirect(reflect.ValueOf(&b).Elem())
	if va.Kind() != reflect.Struct || !va.IsValid() || !vb.IsValid() {
		return nil
	}

	var fields []string
	t := va.Type()
	for i := 0; i < t.NumField(); i++ {
		name, ok := t.Field(i).Tag.Lookup("diff")
		if !ok {
			continue
		}
		if !reflect.DeepEqual(va.Field(i).Interface(), vb.Field(i).Interface()) {
			fields = append(fields, name)
		}
	}
	return fields
}
