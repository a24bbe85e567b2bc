// Package tags reads the grantbook struct tags that mark a document's
// identity and optimistic-locking version fields.
package tags

import (
	"fmt"
	"reflect"
)

const key = "grantbook"

func field(doc any, name string) (reflect.Value, bool) {
	v := reflect.ValueOf(doc)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get(key) == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// ExtractID returns the value of the field tagged grantbook:"id" as a string.
func ExtractID(doc any) (string, error) {
	f, ok := field(doc, "id")
	if !ok {
		return "", fmt.Errorf("grantbook: no field with grantbook:\"id\" tag in %T", doc)
	}
	id := fmt.Sprint(f.Interface())
	if id == "" {
		return "", fmt.Errorf("grantbook: empty id in %T", doc)
	}
	return id, nil
}

// ExtractVersion returns the grantbook:"version" field, if the type has one.
func ExtractVersion(doc any) (int, bool) {
	f, ok := field(doc, "version")
	if !ok {
		return 0, false
	}
	return int(f.Int()), true
}

// SetVersion writes version into the grantbook:"version" field. doc must be a
// pointer for the write to be visible to the caller.
func SetVersion(doc any, version int) {
	f, ok := field(doc, "version")
	if !ok || !f.CanSet() {
		return
	}
	f.SetInt(int64(version))
}
