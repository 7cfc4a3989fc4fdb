package types

import (
	"fmt"

	eventtypes "github.com/inspektor-gadget/inspektor-gadget/pkg/types"
)

// Kind discriminator values, one per probe contributing to the event. The
// last decoded section wins: EventType always names the most recent
// contribution.
const (
	KindUpcall        = "upcall"
	KindActionExecute = "action_execute"
	KindRecvUpcall    = "recv_upcall"
	KindFlowOperation = "flow_operation"
	KindUpcallEnqueue = "upcall_enqueue"
	KindUpcallReturn  = "upcall_return"
)

// PacketCommand holds an OVS_PACKET_CMD value (uapi/linux/openvswitch.h).
type PacketCommand uint8

const (
	PacketCommandUnspec PacketCommand = iota
	PacketCommandMiss
	PacketCommandAction
	PacketCommandExecute
)

func (c PacketCommand) String() string {
	switch c {
	case PacketCommandUnspec:
		return "unspec"
	case PacketCommandMiss:
		return "miss"
	case PacketCommandAction:
		return "action"
	case PacketCommandExecute:
		return "execute"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Event is the OVS datapath event record. Several probes contribute to one
// logical event, so every semantic field is optional: nil means the
// corresponding probe has not reported for this event yet. Decoders only set
// fields, they never clear ones set by an earlier section.
type Event struct {
	eventtypes.Event

	EventType string  `json:"event_type,omitempty"`
	Cmd       *uint8  `json:"cmd,omitempty"`
	Port      *uint32 `json:"port,omitempty"`
	Cpu       *uint32 `json:"cpu,omitempty"`

	Action   *string `json:"action,omitempty"`
	RecircID *uint32 `json:"recirculation_id,omitempty"`
	QueueID  *uint32 `json:"queue_id,omitempty"`

	UpcallType *uint32 `json:"upcall_type,omitempty"`
	PktSize    *uint32 `json:"pkt_size,omitempty"`
	KeySize    *uint64 `json:"key_size,omitempty"`
	BatchTs    *uint64 `json:"batch_ts,omitempty"`
	BatchIdx   *uint8  `json:"batch_idx,omitempty"`

	OpType *string `json:"op_type,omitempty"`

	Return     *int32  `json:"return,omitempty"`
	UpcallPort *uint32 `json:"upcall_port,omitempty"`
	UpcallTs   *uint64 `json:"upcall_ts,omitempty"`
	UpcallCpu  *uint32 `json:"upcall_cpu,omitempty"`
	ReturnCode *int32  `json:"return_code,omitempty"`
}

// String renders a compact one-line summary of the latest contribution,
// suitable for logging.
func (e *Event) String() string {
	switch e.EventType {
	case KindUpcall:
		return fmt.Sprintf("upcall (%s) port=%s cpu=%s",
			cmdString(e.Cmd), u32String(e.Port), u32String(e.Cpu))
	case KindActionExecute:
		return fmt.Sprintf("exec %s recirc_id=%s", strString(e.Action), u32String(e.RecircID))
	case KindRecvUpcall:
		return fmt.Sprintf("recv_upcall queue_id=%s pkt_size=%s", u32String(e.QueueID), u32String(e.PktSize))
	case KindFlowOperation:
		return fmt.Sprintf("flow_%s queue_id=%s", strString(e.OpType), u32String(e.QueueID))
	case KindUpcallEnqueue:
		return fmt.Sprintf("upcall_enqueue (%s) queue_id=%s ret=%s",
			cmdString(e.Cmd), u32String(e.QueueID), i32String(e.Return))
	case KindUpcallReturn:
		return fmt.Sprintf("upcall_ret cpu=%s ret=%s", u32String(e.UpcallCpu), i32String(e.ReturnCode))
	default:
		return "ovs"
	}
}

func cmdString(v *uint8) string {
	if v == nil {
		return "?"
	}
	return PacketCommand(*v).String()
}

func strString(v *string) string {
	if v == nil {
		return "?"
	}
	return *v
}

func u32String(v *uint32) string {
	if v == nil {
		return "?"
	}
	return fmt.Sprintf("%d", *v)
}

func i32String(v *int32) string {
	if v == nil {
		return "?"
	}
	return fmt.Sprintf("%d", *v)
}

func Base(ev eventtypes.Event) *Event {
	return &Event{
		Event: ev,
	}
}
