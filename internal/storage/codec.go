package storage

import (
	"bytes"
	"reflect"

	// Using this as it is better maintained
	"github.com/hashicorp/go-msgpack/v2/codec"
)

var msgpackHandle = newHandle()

func newHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{WriteExt: true}
	h.MapType = reflect.TypeOf(map[string]any(nil))
	h.SignedInteger = true
	return h
}

// DecodeMsgPack reverses EncodeMsgPack.
func DecodeMsgPack(buf []byte, out any) error {
	dec := codec.NewDecoder(bytes.NewReader(buf), msgpackHandle)
	return dec.Decode(out)
}

// EncodeMsgPack writes an encoded object to a new byte slice
func EncodeMsgPack(in any) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	enc := codec.NewEncoder(buf, msgpackHandle)
	if err := enc.Encode(in); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeElements(elements []Element) ([]byte, error) {
	return EncodeMsgPack(elements)
}

func decodeElements(buf []byte) ([]Element, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	var elements []Element
	if err := DecodeMsgPack(buf, &elements); err != nil {
		return nil, err
	}
	return elements, nil
}

func encodeMetadata(md *WindowMetadata) ([]byte, error) {
	return EncodeMsgPack(md)
}

func decodeMetadata(buf []byte) (*WindowMetadata, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	md := &WindowMetadata{}
	if err := DecodeMsgPack(buf, md); err != nil {
		return nil, err
	}
	return md, nil
}
