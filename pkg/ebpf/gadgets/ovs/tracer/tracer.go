package tracer

import (
	"errors"
	"fmt"
	"os"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/perf"
	"github.com/inspektor-gadget/inspektor-gadget/pkg/gadgets"
	eventtypes "github.com/inspektor-gadget/inspektor-gadget/pkg/types"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"go.uber.org/multierr"

	"github.com/flowscope/datapath-agent/pkg/ebpf/events"
	"github.com/flowscope/datapath-agent/pkg/ebpf/gadgets/ovs/types"
	"github.com/flowscope/datapath-agent/pkg/metricsmanager"
	"github.com/flowscope/datapath-agent/pkg/rawsection"
)

// ovsEventType mirrors the section type ids emitted by the OVS BPF programs.
// Keep in sync with the BPF side.
type ovsEventType uint8

const (
	typeUpcall ovsEventType = iota
	typeUpcallEnqueue
	typeUpcallReturn
	typeRecvUpcall
	typeOperation
	typeActionExec
	typeActionExecTrack
	typeOutputAction
)

// Raw section layouts. Field order and widths must match the packed structs
// defined by the BPF programs, bit for bit.

type upcallEvent struct {
	Cmd  uint8
	Port uint32
	Cpu  uint32
}

type actionEvent struct {
	Action   uint8
	RecircID uint32
}

type actionTrackEvent struct {
	QueueID uint32
}

type outputActionEvent struct {
	Port uint32
}

type recvUpcallEvent struct {
	Type     uint32
	PktSize  uint32
	KeySize  uint64
	QueueID  uint32
	BatchTs  uint64
	BatchIdx uint8
}

type operationEvent struct {
	OpType   uint8
	QueueID  uint32
	BatchTs  uint64
	BatchIdx uint8
}

type upcallEnqueueEvent struct {
	Ret       int32
	Cmd       uint8
	Port      uint32
	UpcallTs  uint64
	UpcallCpu uint32
	QueueID   uint32
}

type upcallReturnEvent struct {
	UpcallTs  uint64
	UpcallCpu uint32
	RetCode   int32
}

// actionName resolves a value of enum ovs_action_attr
// (uapi/linux/openvswitch.h). The enum is a fixed kernel ABI contract, so an
// unknown value is a hard error rather than a guess.
func actionName(action uint8) (string, error) {
	switch action {
	case 0:
		return "unspecified", nil
	case 1:
		return "output", nil
	case 2:
		return "userspace", nil
	case 3:
		return "set", nil
	case 4:
		return "push_vlan", nil
	case 5:
		return "pop_vlan", nil
	case 6:
		return "sample", nil
	case 7:
		return "recirc", nil
	case 8:
		return "hash", nil
	case 9:
		return "push_mpls", nil
	case 10:
		return "pop_mpls", nil
	case 11:
		return "set_masked", nil
	case 12:
		return "ct", nil
	case 13:
		return "trunc", nil
	case 14:
		return "push_eth", nil
	case 15:
		return "pop_eth", nil
	case 16:
		return "ct_clear", nil
	case 17:
		return "push_nsh", nil
	case 18:
		return "pop_nsh", nil
	case 19:
		return "meter", nil
	case 20:
		return "clone", nil
	case 21:
		return "check_pkt_len", nil
	case 22:
		return "add_mpls", nil
	case 23:
		return "dec_ttl", nil
	default:
		return "", fmt.Errorf("%w: ovs action id %d", rawsection.ErrUnsupportedValue, action)
	}
}

// operationName resolves a userspace flow operation type.
func operationName(op uint8) (string, error) {
	switch op {
	case 0:
		return "exec", nil
	case 1:
		return "put", nil
	default:
		return "", fmt.Errorf("%w: ovs flow operation type %d", rawsection.ErrUnsupportedValue, op)
	}
}

type Config struct {
	EventsMap       *ebpf.Map
	PerfBufferPages int
}

type Tracer struct {
	config        *Config
	metrics       metricsmanager.MetricsManager
	eventCallback func(*types.Event)

	reader *perf.Reader
}

func NewTracer(config *Config, metrics metricsmanager.MetricsManager,
	eventCallback func(*types.Event),
) (*Tracer, error) {
	t := &Tracer{
		config:        config,
		metrics:       metrics,
		eventCallback: eventCallback,
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
		return errors.New("ovs tracer: events map is required")
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
			logger.L().Warning("ovs tracer - decoding event", helpers.Error(err))
			t.metrics.ReportFailedEvent()
			continue
		}

		t.metrics.ReportEvent(event.EventType)
		t.eventCallback(event)
	}
}

// DecodeRecord turns one raw perf record into an OVS event. Sections are
// decoded in order and merged into a single record; a failing section leaves
// the record untouched by that section and fails the whole record.
func (t *Tracer) DecodeRecord(raw []byte) (*types.Event, error) {
	sections, err := events.SplitSections(raw)
	if err != nil {
		return nil, err
	}

	event := types.Base(eventtypes.Event{Type: eventtypes.NORMAL})

	var errs error
	for _, sec := range sections {
		if sec.Owner != rawsection.OwnerOvs {
			continue
		}
		errs = multierr.Append(errs, t.decodeSection(sec, event))
	}
	if errs != nil {
		return nil, errs
	}

	return event, nil
}

func (t *Tracer) decodeSection(sec rawsection.Section, event *types.Event) error {
	switch ovsEventType(sec.Type) {
	case typeUpcall:
		return decodeUpcall(sec, event)
	case typeUpcallEnqueue:
		return decodeUpcallEnqueue(sec, event)
	case typeUpcallReturn:
		return decodeUpcallReturn(sec, event)
	case typeRecvUpcall:
		return decodeRecvUpcall(sec, event)
	case typeOperation:
		return decodeOperation(sec, event)
	case typeActionExec:
		return decodeActionExec(sec, event)
	case typeActionExecTrack:
		return decodeActionExecTrack(sec, event)
	case typeOutputAction:
		return decodeOutputAction(sec, event)
	default:
		return fmt.Errorf("%w: ovs section type %d", rawsection.ErrUnsupportedValue, sec.Type)
	}
}

func decodeUpcall(sec rawsection.Section, event *types.Event) error {
	raw, err := rawsection.DecodeInto[upcallEvent](sec)
	if err != nil {
		return err
	}

	event.Cmd = &raw.Cmd
	event.Port = &raw.Port
	event.Cpu = &raw.Cpu
	event.EventType = types.KindUpcall

	return nil
}

func decodeActionExec(sec rawsection.Section, event *types.Event) error {
	raw, err := rawsection.DecodeInto[actionEvent](sec)
	if err != nil {
		return err
	}

	action, err := actionName(raw.Action)
	if err != nil {
		return err
	}

	event.Action = &action
	event.RecircID = &raw.RecircID
	event.EventType = types.KindActionExecute

	return nil
}

// decodeActionExecTrack only annotates the action execution with its queue
// id, the event kind stays whatever the action section set.
func decodeActionExecTrack(sec rawsection.Section, event *types.Event) error {
	raw, err := rawsection.DecodeInto[actionTrackEvent](sec)
	if err != nil {
		return err
	}

	event.QueueID = &raw.QueueID

	return nil
}

func decodeOutputAction(sec rawsection.Section, event *types.Event) error {
	raw, err := rawsection.DecodeInto[outputActionEvent](sec)
	if err != nil {
		return err
	}

	event.Port = &raw.Port

	return nil
}

func decodeRecvUpcall(sec rawsection.Section, event *types.Event) error {
	raw, err := rawsection.DecodeInto[recvUpcallEvent](sec)
	if err != nil {
		return err
	}

	event.UpcallType = &raw.Type
	event.PktSize = &raw.PktSize
	event.KeySize = &raw.KeySize
	event.QueueID = &raw.QueueID
	event.BatchTs = &raw.BatchTs
	event.BatchIdx = &raw.BatchIdx
	event.EventType = types.KindRecvUpcall

	return nil
}

func decodeOperation(sec rawsection.Section, event *types.Event) error {
	raw, err := rawsection.DecodeInto[operationEvent](sec)
	if err != nil {
		return err
	}

	opType, err := operationName(raw.OpType)
	if err != nil {
		return err
	}

	event.OpType = &opType
	event.QueueID = &raw.QueueID
	event.BatchTs = &raw.BatchTs
	event.BatchIdx = &raw.BatchIdx
	event.EventType = types.KindFlowOperation

	return nil
}

func decodeUpcallEnqueue(sec rawsection.Section, event *types.Event) error {
	raw, err := rawsection.DecodeInto[upcallEnqueueEvent](sec)
	if err != nil {
		return err
	}

	event.Return = &raw.Ret
	event.Cmd = &raw.Cmd
	event.UpcallPort = &raw.Port
	event.UpcallTs = &raw.UpcallTs
	event.UpcallCpu = &raw.UpcallCpu
	event.QueueID = &raw.QueueID
	event.EventType = types.KindUpcallEnqueue

	return nil
}

func decodeUpcallReturn(sec rawsection.Section, event *types.Event) error {
	raw, err := rawsection.DecodeInto[upcallReturnEvent](sec)
	if err != nil {
		return err
	}

	event.UpcallTs = &raw.UpcallTs
	event.UpcallCpu = &raw.UpcallCpu
	event.ReturnCode = &raw.RetCode
	event.EventType = types.KindUpcallReturn

	return nil
}
