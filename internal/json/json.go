// Package json 以 bytedance/sonic 提供与 encoding/json 兼容的编解码入口。
package json

import (
	gojson "encoding/json"

	"github.com/bytedance/sonic"
)

var (
	json = sonic.ConfigStd
	// Marshal 与 encoding/json.Marshal 行为一致。
	Marshal = json.Marshal
	// Unmarshal 与 encoding/json.Unmarshal 行为一致。
	Unmarshal     = json.Unmarshal
	MarshalIndent = json.MarshalIndent
	Valid         = json.Valid
)

type (
	RawMessage = gojson.RawMessage
	Number     = gojson.Number
)
