package log

import "go.uber.org/zap"

const (
	FieldNameModule    = "module"
	FieldNameComponent = "component"
	FieldNameType      = "type"
	FieldNameClassID   = "classID"
	FieldNamePosition  = "position"
)

// FieldModule 返回一个包含模块名的 zap 字段。
func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

// FieldComponent 返回一个包含组件名的 zap 字段。
func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

// FieldType 返回一个包含类型名的 zap 字段。
func FieldType(typeName string) zap.Field {
	return zap.String(FieldNameType, typeName)
}

// FieldClassID 返回一个包含注册 id 的 zap 字段。
func FieldClassID(id int32) zap.Field {
	return zap.Int32(FieldNameClassID, id)
}

// FieldPosition 返回一个包含缓冲区全局偏移的 zap 字段。
func FieldPosition(pos int64) zap.Field {
	return zap.Int64(FieldNamePosition, pos)
}
