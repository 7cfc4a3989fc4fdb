package types

import (
	"fmt"

	eventtypes "github.com/inspektor-gadget/inspektor-gadget/pkg/types"
)

const KindSkbDrop = "skb_drop"

// Event is the skb drop event record. DropReason is the symbolic name of the
// kernel drop reason when it could be resolved from BTF, otherwise the raw
// enum value in decimal form.
type Event struct {
	eventtypes.Event

	EventType  string  `json:"event_type,omitempty"`
	DropReason *string `json:"drop_reason,omitempty"`
}

func (e *Event) String() string {
	if e.DropReason == nil {
		return "drop"
	}
	return fmt.Sprintf("drop (%s)", *e.DropReason)
}

func Base(ev eventtypes.Event) *Event {
	return &Event{
		Event: ev,
	}
}
