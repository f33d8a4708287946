package memory

import "fmt"

// SegmentedAddress is a real-mode segment:offset pair.
type SegmentedAddress struct {
	Segment uint16
	Offset  uint16
}

// ToPhysical converts a segment:offset pair to a physical address.
func ToPhysical(segment, offset uint16) uint32 {
	return uint32(segment)<<4 + uint32(offset)
}

// Physical returns the physical address of a.
func (a SegmentedAddress) Physical() uint32 {
	return ToPhysical(a.Segment, a.Offset)
}

// Add returns the address delta bytes further within the same segment.
// The offset wraps at 64 KiB.
func (a SegmentedAddress) Add(delta uint16) SegmentedAddress {
	return SegmentedAddress{Segment: a.Segment, Offset: a.Offset + delta}
}

func (a SegmentedAddress) String() string {
	return fmt.Sprintf("%04X:%04X", a.Segment, a.Offset)
}
