package tracer

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/cilium/ebpf/btf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowscope/datapath-agent/pkg/ebpf/gadgets/skbdrop/types"
	"github.com/flowscope/datapath-agent/pkg/rawsection"
)

type fakeResolver struct {
	builds int
	enum   *btf.Enum
	err    error
}

func (f *fakeResolver) ResolveEnum(name string) (*btf.Enum, error) {
	f.builds++
	if f.err != nil {
		return nil, f.err
	}
	return f.enum, nil
}

func dropReasonsEnum() *btf.Enum {
	return &btf.Enum{
		Name:   dropReasonEnum,
		Size:   4,
		Signed: true,
		Values: []btf.EnumValue{
			{Name: "SKB_NOT_DROPPED_YET", Value: 0},
			{Name: "SKB_DROP_REASON_NOT_SPECIFIED", Value: 2},
			{Name: "SKB_DROP_REASON_NO_SOCKET", Value: 3},
			// -1, a sentinel that is not a data-plane reason.
			{Name: "SKB_DROP_REASON_SENTINEL", Value: ^uint64(0)},
		},
	}
}

func newTestTracer(resolver EnumResolver) *Tracer {
	return &Tracer{
		config:  &Config{},
		reasons: reasonTable{resolver: resolver},
	}
}

func dropRecord(reason uint32) []byte {
	payload := binary.NativeEndian.AppendUint32(nil, reason)
	raw := []byte{byte(rawsection.OwnerSkbDrop), 0}
	raw = binary.NativeEndian.AppendUint16(raw, uint16(len(payload)))
	return append(raw, payload...)
}

func TestLookupBuildsOnce(t *testing.T) {
	resolver := &fakeResolver{enum: dropReasonsEnum()}
	tracer := newTestTracer(resolver)

	for i := 0; i < 5; i++ {
		assert.Equal(t, "NOT_SPECIFIED", tracer.reasons.lookup(2))
		assert.Equal(t, "NO_SOCKET", tracer.reasons.lookup(3))
	}

	assert.Equal(t, 1, resolver.builds)
}

func TestLookupStripsPrefixes(t *testing.T) {
	tracer := newTestTracer(&fakeResolver{enum: dropReasonsEnum()})

	// SKB_DROP_REASON_ fully stripped.
	assert.Equal(t, "NOT_SPECIFIED", tracer.reasons.lookup(2))
	// Only the SKB_ prefix applies, the rest is stored unchanged.
	assert.Equal(t, "NOT_DROPPED_YET", tracer.reasons.lookup(0))
}

func TestLookupUnknownReasonFallsBack(t *testing.T) {
	resolver := &fakeResolver{enum: dropReasonsEnum()}
	tracer := newTestTracer(resolver)

	assert.Equal(t, "99", tracer.reasons.lookup(99))
	assert.Equal(t, 1, resolver.builds)
}

func TestLookupMetadataUnavailable(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("no BTF available")}
	tracer := newTestTracer(resolver)

	assert.Equal(t, "5", tracer.reasons.lookup(5))
	assert.Equal(t, "2", tracer.reasons.lookup(2))

	// The failed build is never retried.
	assert.Equal(t, 1, resolver.builds)
}

func TestNegativeMembersSkipped(t *testing.T) {
	tracer := newTestTracer(&fakeResolver{enum: dropReasonsEnum()})
	tracer.reasons.lookup(0)

	for _, name := range tracer.reasons.reasons {
		assert.NotEqual(t, "SENTINEL", name)
	}
}

func TestDecodeRecord(t *testing.T) {
	tracer := newTestTracer(&fakeResolver{enum: dropReasonsEnum()})

	event, err := tracer.DecodeRecord(dropRecord(2))
	require.NoError(t, err)

	assert.Equal(t, types.KindSkbDrop, event.EventType)
	require.NotNil(t, event.DropReason)
	assert.Equal(t, "NOT_SPECIFIED", *event.DropReason)
	assert.Equal(t, "drop (NOT_SPECIFIED)", event.String())
}

func TestDecodeRecordNumericFallback(t *testing.T) {
	tracer := newTestTracer(&fakeResolver{err: errors.New("no BTF available")})

	event, err := tracer.DecodeRecord(dropRecord(5))
	require.NoError(t, err)

	require.NotNil(t, event.DropReason)
	assert.Equal(t, "5", *event.DropReason)
}

func TestDecodeRecordSizeMismatch(t *testing.T) {
	tracer := newTestTracer(&fakeResolver{enum: dropReasonsEnum()})

	raw := []byte{byte(rawsection.OwnerSkbDrop), 0}
	raw = binary.NativeEndian.AppendUint16(raw, 3)
	raw = append(raw, 1, 2, 3)

	_, err := tracer.DecodeRecord(raw)
	assert.ErrorIs(t, err, rawsection.ErrSizeMismatch)
}

func TestDecodeRecordSingleSectionOnly(t *testing.T) {
	tracer := newTestTracer(&fakeResolver{enum: dropReasonsEnum()})

	raw := append(dropRecord(2), dropRecord(3)...)

	_, err := tracer.DecodeRecord(raw)
	assert.Error(t, err)
}
