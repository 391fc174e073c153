// Package obfuscate implements the repeating-key XOR transform applied to
// frame payloads.
//
// The transform only hides payloads from casual inspection. It provides no
// confidentiality and no integrity: a corrupted payload decodes to garbage
// without any error.
package obfuscate

import "github.com/pkg/errors"

// ErrInvalidKey is returned when the key is empty.
var ErrInvalidKey = errors.New("obfuscate: key must not be empty")

// DefaultKey is the key both ends use unless configured otherwise.
const DefaultKey Key = "MY_SECRET_KEY"

// Key is the shared obfuscation key. It is never mutated after creation and
// may be shared freely between goroutines.
type Key string

// Validate reports whether k can be used with Transform.
func (k Key) Validate() error {
	if len(k) == 0 {
		return ErrInvalidKey
	}
	return nil
}

// Transform XORs data[i] with key[i mod len(key)] in place. Applying it twice
// with the same key restores the original bytes.
func Transform(data []byte, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	n := len(key)
	for i := range data {
		data[i] ^= key[i%n]
	}
	return nil
}

// Apply returns a transformed copy of data, leaving data untouched.
func Apply(data []byte, key Key) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	if err := Transform(out, key); err != nil {
		return nil, err
	}
	return out, nil
}
