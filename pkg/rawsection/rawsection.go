// Package rawsection models the tagged raw buffers emitted by the BPF probes
// and provides the single bounded primitive used to reinterpret them as typed,
// fixed-layout records.
package rawsection

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Owner identifies the module whose probes produced a section.
type Owner uint8

const (
	OwnerOvs     Owner = 1
	OwnerSkbDrop Owner = 2
)

var (
	// ErrSizeMismatch is returned when a raw buffer does not have the exact
	// byte size of the layout expected for its tag.
	ErrSizeMismatch = errors.New("raw section size mismatch")
	// ErrUnsupportedValue is returned when a raw value falls outside a closed,
	// compiled-in enumeration. It signals a producer/consumer version mismatch.
	ErrUnsupportedValue = errors.New("unsupported value")
)

// Section is one raw buffer together with the tag identifying the probe that
// produced it. The data is owned by the transport and must not be retained
// beyond the decode call.
type Section struct {
	Owner Owner
	Type  uint8
	Data  []byte
}

// DecodeInto reinterprets the section payload as the packed fixed layout T.
// T must consist only of fixed-width integer fields, laid out in the exact
// order and widths of its BPF counterpart. The payload length must equal the
// packed size of T; any mismatch fails hard without producing a partial value.
// Fields are read in native byte order, producer and consumer share the host.
func DecodeInto[T any](sec Section) (*T, error) {
	out := new(T)
	size := binary.Size(out)
	if size < 0 {
		return nil, fmt.Errorf("layout %T is not fixed-size", out)
	}
	if len(sec.Data) != size {
		return nil, fmt.Errorf("%w: section type %d expects %d bytes, got %d",
			ErrSizeMismatch, sec.Type, size, len(sec.Data))
	}
	if err := binary.Read(bytes.NewReader(sec.Data), binary.NativeEndian, out); err != nil {
		return nil, fmt.Errorf("reading section type %d: %w", sec.Type, err)
	}
	return out, nil
}
