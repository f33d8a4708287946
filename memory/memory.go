// Package memory provides the physical memory image of a real-mode x86
// machine, with byte-granularity write watchpoints.
//
// Every write goes through Write8. Before a byte is stored, the hooks of all
// watchpoints installed on that byte are called with the old and new values.
// Hooks run synchronously on the writing goroutine, so anything they
// invalidate is visible to the next read.
package memory

// DefaultSize is 1 MiB plus the 64 KiB high memory area reachable with A20
// enabled.
const DefaultSize = 0x110000

// a20Mask wraps addresses at 1 MiB when the A20 line is disabled.
const a20Mask = 0xFFFFF

// Reader reads little-endian values at physical addresses.
type Reader interface {
	Read8(addr uint32) uint8
	Read16(addr uint32) uint16
	Read32(addr uint32) uint32
}

// BytePattern is a byte run with positions that may be left unspecified.
type BytePattern interface {
	// Len returns the number of bytes in the pattern.
	Len() int
	// MatchesByte reports whether b is acceptable at position i.
	MatchesByte(i int, b byte) bool
}

// WriteHook is called before a watched byte is stored.
type WriteHook func(addr uint32, oldValue, newValue byte)

// Watchpoint is a write trap on a single physical byte.
type Watchpoint struct {
	addr    uint32
	hook    WriteHook
	removed bool
}

// Address returns the physical address the watchpoint guards.
func (w *Watchpoint) Address() uint32 {
	return w.addr
}

// Memory is a flat physical address space.
type Memory struct {
	data       []byte
	a20Enabled bool

	watches    map[uint32][]*Watchpoint
	watchCount int
}

// Option configures a Memory.
type Option func(*Memory)

// WithA20 sets the initial state of the A20 gate.
func WithA20(enabled bool) Option {
	return func(m *Memory) {
		m.a20Enabled = enabled
	}
}

// New creates a zeroed memory of the given size. A size of 0 selects
// DefaultSize.
func New(size int, opts ...Option) *Memory {
	if size <= 0 {
		size = DefaultSize
	}

	m := &Memory{
		data:    make([]byte, size),
		watches: make(map[uint32][]*Watchpoint),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Size returns the size of the memory in bytes.
func (m *Memory) Size() int {
	return len(m.data)
}

// A20Enabled reports whether addresses above 1 MiB are reachable.
func (m *Memory) A20Enabled() bool {
	return m.a20Enabled
}

// SetA20 enables or disables the A20 gate.
func (m *Memory) SetA20(enabled bool) {
	m.a20Enabled = enabled
}

func (m *Memory) wrap(addr uint32) uint32 {
	if !m.a20Enabled {
		return addr & a20Mask
	}
	return addr
}

// Read8 reads a byte. Addresses outside memory read as 0.
func (m *Memory) Read8(addr uint32) uint8 {
	addr = m.wrap(addr)
	if int(addr) >= len(m.data) {
		return 0
	}
	return m.data[addr]
}

// Read16 reads a little-endian word.
func (m *Memory) Read16(addr uint32) uint16 {
	return uint16(m.Read8(addr)) | uint16(m.Read8(addr+1))<<8
}

// Read32 reads a little-endian double word.
func (m *Memory) Read32(addr uint32) uint32 {
	return uint32(m.Read16(addr)) | uint32(m.Read16(addr+2))<<16
}

// ReadBytes returns a copy of n bytes starting at addr.
func (m *Memory) ReadBytes(addr uint32, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = m.Read8(addr + uint32(i))
	}
	return out
}

// Write8 stores a byte, notifying the watchpoints installed on it first.
// Writes outside memory are dropped.
func (m *Memory) Write8(addr uint32, value uint8) {
	addr = m.wrap(addr)
	if int(addr) >= len(m.data) {
		return
	}

	if watches := m.watches[addr]; len(watches) > 0 {
		old := m.data[addr]
		// Hooks may add or remove watchpoints, so iterate a snapshot.
		snapshot := make([]*Watchpoint, len(watches))
		copy(snapshot, watches)
		for _, w := range snapshot {
			if !w.removed {
				w.hook(addr, old, value)
			}
		}
	}

	m.data[addr] = value
}

// Write16 stores a little-endian word.
func (m *Memory) Write16(addr uint32, value uint16) {
	m.Write8(addr, uint8(value))
	m.Write8(addr+1, uint8(value>>8))
}

// Write32 stores a little-endian double word.
func (m *Memory) Write32(addr uint32, value uint32) {
	m.Write16(addr, uint16(value))
	m.Write16(addr+2, uint16(value>>16))
}

// LoadBytes copies data into memory starting at addr. Watchpoints fire as
// for any other write.
func (m *Memory) LoadBytes(addr uint32, data []byte) {
	for i, b := range data {
		m.Write8(addr+uint32(i), b)
	}
}

// Matches reports whether the live bytes at addr satisfy the pattern.
func (m *Memory) Matches(addr uint32, pattern BytePattern) bool {
	for i := 0; i < pattern.Len(); i++ {
		if !pattern.MatchesByte(i, m.Read8(addr+uint32(i))) {
			return false
		}
	}
	return true
}

// AddWriteWatch installs a write watchpoint on a single byte.
func (m *Memory) AddWriteWatch(addr uint32, hook WriteHook) *Watchpoint {
	addr = m.wrap(addr)
	w := &Watchpoint{addr: addr, hook: hook}
	m.watches[addr] = append(m.watches[addr], w)
	m.watchCount++
	return w
}

// RemoveWriteWatch uninstalls a watchpoint. Removing it twice is a no-op.
func (m *Memory) RemoveWriteWatch(w *Watchpoint) {
	if w == nil || w.removed {
		return
	}
	w.removed = true
	m.watchCount--

	watches := m.watches[w.addr]
	for i, candidate := range watches {
		if candidate == w {
			watches = append(watches[:i:i], watches[i+1:]...)
			break
		}
	}

	if len(watches) == 0 {
		delete(m.watches, w.addr)
		return
	}
	m.watches[w.addr] = watches
}

// IsWatched reports whether at least one watchpoint guards addr.
func (m *Memory) IsWatched(addr uint32) bool {
	return len(m.watches[m.wrap(addr)]) > 0
}

// WatchCount returns the number of installed watchpoints.
func (m *Memory) WatchCount() int {
	return m.watchCount
}
