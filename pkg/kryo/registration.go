package kryo

import (
	"fmt"
	"reflect"
)

// Registration 描述一个已注册类型，创建后不可修改。
type Registration struct {
	typ        reflect.Type
	id         int32
	serializer Serializer
	canBeNull  bool
}

func newRegistration(t reflect.Type, id int32, s Serializer) *Registration {
	return &Registration{
		typ:        t,
		id:         id,
		serializer: s,
		canBeNull:  nullable(t),
	}
}

func nullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return true
	}
	return false
}

func (r *Registration) Type() reflect.Type {
	return r.typ
}

func (r *Registration) ID() int32 {
	return r.id
}

func (r *Registration) Serializer() Serializer {
	return r.serializer
}

// CanBeNull 表示该类型的值是否可能为空，决定 WriteObject 是否写入存在标记。
func (r *Registration) CanBeNull() bool {
	return r.canBeNull
}

func (r *Registration) Name() string {
	return r.typ.String()
}

func (r *Registration) String() string {
	return fmt.Sprintf("[%d, %s]", r.id, r.typ)
}
