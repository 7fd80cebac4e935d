package kryo

import (
	"context"
	"reflect"

	"github.com/lk2023060901/danmu-kryo/internal/json"
	"github.com/lk2023060901/danmu-kryo/pkg/buffer/chunk"
)

// JSONSerializer 将对象编码为 JSON 文本后作为字符串写入。
// 适合调试或与其他语言交换数据，体积大于二进制格式。
type JSONSerializer struct{}

func (JSONSerializer) Write(_ context.Context, w *chunk.WriteBuffer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeOnly(w.WriteString(string(data)))
}

func (JSONSerializer) Read(_ context.Context, r *chunk.ReadBuffer, t reflect.Type) (any, error) {
	text, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	if t.Kind() == reflect.Pointer {
		ptr := reflect.New(t.Elem())
		if err := json.Unmarshal([]byte(text), ptr.Interface()); err != nil {
			return nil, err
		}
		return ptr.Interface(), nil
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal([]byte(text), ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}
