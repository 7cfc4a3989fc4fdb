package tracer

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/btf"
	"github.com/cilium/ebpf/perf"
	"github.com/inspektor-gadget/inspektor-gadget/pkg/gadgets"
	eventtypes "github.com/inspektor-gadget/inspektor-gadget/pkg/types"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"

	"github.com/flowscope/datapath-agent/pkg/ebpf/events"
	"github.com/flowscope/datapath-agent/pkg/ebpf/gadgets/skbdrop/types"
	"github.com/flowscope/datapath-agent/pkg/metricsmanager"
	"github.com/flowscope/datapath-agent/pkg/rawsection"
)

const dropReasonEnum = "skb_drop_reason"

// Prefixes stripped from the enum member names, in order.
var dropReasonPrefixes = []string{"SKB_", "DROP_REASON_"}

// dropEvent is the raw section layout, keep in sync with the BPF counterpart.
type dropEvent struct {
	DropReason uint32
}

// EnumResolver returns the definition of a named enum type from the running
// kernel's type metadata.
type EnumResolver interface {
	ResolveEnum(name string) (*btf.Enum, error)
}

type kernelEnumResolver struct{}

func (kernelEnumResolver) ResolveEnum(name string) (*btf.Enum, error) {
	spec, err := btf.LoadKernelSpec()
	if err != nil {
		return nil, fmt.Errorf("loading kernel BTF: %w", err)
	}

	typ, err := spec.AnyTypeByName(name)
	if err != nil {
		return nil, fmt.Errorf("resolving type %s: %w", name, err)
	}

	enum, ok := typ.(*btf.Enum)
	if !ok {
		return nil, fmt.Errorf("type %s is not an enum", name)
	}

	return enum, nil
}

// reasonTable maps raw drop reason values to symbolic names. It is built
// lazily from kernel BTF, at most once per tracer: a nil map means the build
// has not run yet, a non-nil empty map means BTF was unavailable and lookups
// fall back to the raw value's decimal form.
type reasonTable struct {
	resolver EnumResolver
	reasons  map[uint32]string
}

func (rt *reasonTable) lookup(reason uint32) string {
	if rt.reasons == nil {
		rt.build()
	}

	if name, ok := rt.reasons[reason]; ok {
		return name
	}
	return strconv.FormatUint(uint64(reason), 10)
}

func (rt *reasonTable) build() {
	rt.reasons = make(map[uint32]string)

	enum, err := rt.resolver.ResolveEnum(dropReasonEnum)
	if err != nil {
		logger.L().Warning("skbdrop tracer - can't retrieve drop reason definitions from the kernel, events will carry the raw enum value",
			helpers.Error(err))
		return
	}

	for _, member := range enum.Values {
		// The enum mixes in negative sentinel values, skip them.
		if enum.Signed && int64(member.Value) < 0 {
			continue
		}

		name := member.Name
		for _, prefix := range dropReasonPrefixes {
			name = strings.TrimPrefix(name, prefix)
		}
		rt.reasons[uint32(member.Value)] = name
	}
}

type Config struct {
	EventsMap       *ebpf.Map
	PerfBufferPages int

	// Resolver overrides the kernel BTF resolver, used by tests.
	Resolver EnumResolver
}

type Tracer struct {
	config        *Config
	metrics       metricsmanager.MetricsManager
	eventCallback func(*types.Event)

	reasons reasonTable
	reader  *perf.Reader
}

func NewTracer(config *Config, metrics metricsmanager.MetricsManager,
	eventCallback func(*types.Event),
) (*Tracer, error) {
	t := &Tracer{
		config:        config,
		metrics:       metrics,
		eventCallback: eventCallback,
		reasons:       reasonTable{resolver: config.Resolver},
	}
	if t.reasons.resolver == nil {
		t.reasons.resolver = kernelEnumResolver{}
	}

	if err := t.install(); err != nil {
		t.close()
		return nil, err
	}

	go t.run()

	return t, nil
}

func (t *Tracer) Stop() {
	t.close()
}

func (t *Tracer) close() {
	if t.reader != nil {
		t.reader.Close()
	}
}

func (t *Tracer) install() error {
	if t.config.EventsMap == nil {
		return errors.New("skbdrop tracer: events map is required")
	}

	pages := t.config.PerfBufferPages
	if pages == 0 {
		pages = gadgets.PerfBufferPages
	}

	reader, err := perf.NewReader(t.config.EventsMap, pages*os.Getpagesize())
	if err != nil {
		return fmt.Errorf("creating perf ring buffer: %w", err)
	}
	t.reader = reader

	return nil
}

func (t *Tracer) run() {
	for {
		record, err := t.reader.Read()
		if err != nil {
			if errors.Is(err, perf.ErrClosed) {
				return
			}

			msg := fmt.Sprintf("Error reading perf ring buffer: %s", err)
			t.eventCallback(types.Base(eventtypes.Err(msg)))
			return
		}

		if record.LostSamples > 0 {
			msg := fmt.Sprintf("lost %d samples", record.LostSamples)
			t.eventCallback(types.Base(eventtypes.Warn(msg)))
			continue
		}

		event, err := t.DecodeRecord(record.RawSample)
		if err != nil {
			logger.L().Warning("skbdrop tracer - decoding event", helpers.Error(err))
			t.metrics.ReportFailedEvent()
			continue
		}

		t.metrics.ReportEvent(event.EventType)
		t.eventCallback(event)
	}
}

// DecodeRecord turns one raw perf record into an skb drop event. The module
// emits exactly one section per record.
func (t *Tracer) DecodeRecord(raw []byte) (*types.Event, error) {
	sections, err := events.SplitSections(raw)
	if err != nil {
		return nil, err
	}

	var own []rawsection.Section
	for _, sec := range sections {
		if sec.Owner == rawsection.OwnerSkbDrop {
			own = append(own, sec)
		}
	}
	if len(own) != 1 {
		return nil, fmt.Errorf("expected a single skb drop section, got %d", len(own))
	}

	event := types.Base(eventtypes.Event{Type: eventtypes.NORMAL})
	if err := t.decodeSection(own[0], event); err != nil {
		return nil, err
	}

	return event, nil
}

func (t *Tracer) decodeSection(sec rawsection.Section, event *types.Event) error {
	raw, err := rawsection.DecodeInto[dropEvent](sec)
	if err != nil {
		return err
	}

	reason := t.reasons.lookup(raw.DropReason)
	event.DropReason = &reason
	event.EventType = types.KindSkbDrop

	return nil
}
