// Package api defines the Connect RPC surface of the kixikila server: the
// message types, procedure names, handler constructors and typed clients.
//
// Messages are plain Go structs carried as JSON.
package api

import (
	"encoding/json"

	"connectrpc.com/connect"
)

// CodecName is the Connect codec name; requests use Content-Type
// application/json.
const CodecName = "json"

// Codec marshals messages with encoding/json. It replaces Connect's default
// JSON codec, which only accepts protobuf messages.
type Codec struct{}

var _ connect.Codec = Codec{}

// Name implements connect.Codec.
func (Codec) Name() string { return CodecName }

// Marshal implements connect.Codec.
func (Codec) Marshal(msg any) ([]byte, error) { return json.Marshal(msg) }

// Unmarshal implements connect.Codec.
func (Codec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, msg)
}
