// Package codec encodes checkpoint payloads: deterministic CBOR, optionally
// compressed with zstd or lz4, behind a small self-describing frame.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2) so the same
// snapshot always produces identical bytes.
var encMode cbor.EncMode

// decMode ignores unknown fields so older readers accept newer payloads.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to deterministic CBOR without compression framing.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes raw CBOR into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
