package slice

import (
	"github.com/fxamacker/cbor/v2"
)

// Encoding is deterministic (core deterministic CBOR) because encoded bytes
// feed straight into hashes and signatures: two nodes must produce identical
// bytes for identical structures.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes v as deterministic CBOR
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes deterministic CBOR into v
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
