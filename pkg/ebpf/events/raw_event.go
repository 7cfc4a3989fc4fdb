// Package events implements the wire format shared by all BPF probes: one
// perf record carries a sequence of raw sections, each prefixed by a small
// header naming the module and probe that produced it.
package events

import (
	"encoding/binary"
	"fmt"

	"github.com/flowscope/datapath-agent/pkg/rawsection"
)

// Section header, keep in sync with the BPF counterpart:
// owner u8, type u8, len u16, all packed.
const sectionHeaderLen = 4

// SplitSections splits one raw perf record into its tagged sections. Headers
// and declared lengths are validated against the record boundary; a truncated
// header or an overrunning section fails the whole record.
func SplitSections(raw []byte) ([]rawsection.Section, error) {
	var sections []rawsection.Section
	for off := 0; off < len(raw); {
		if len(raw)-off < sectionHeaderLen {
			return nil, fmt.Errorf("truncated section header at offset %d", off)
		}
		owner := rawsection.Owner(raw[off])
		secType := raw[off+1]
		length := int(binary.NativeEndian.Uint16(raw[off+2 : off+4]))
		off += sectionHeaderLen
		if off+length > len(raw) {
			return nil, fmt.Errorf("section (owner %d, type %d) length %d overruns record at offset %d",
				owner, secType, length, off)
		}
		sections = append(sections, rawsection.Section{
			Owner: owner,
			Type:  secType,
			Data:  raw[off : off+length],
		})
		off += length
	}
	return sections, nil
}
