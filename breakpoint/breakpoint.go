// Package breakpoint implements software breakpoint bookkeeping: the
// address-keyed table of installed traps, their original instructions,
// and the recent-history side tables the target model uses to decide
// whether a prefetch-buffer flush is needed before resuming.
package breakpoint

import (
	"github.com/golang/glog"
	"github.com/juju/errors"
)

// Memory is the subset of target memory access a breakpoint table needs:
// 16/32-bit reads and writes at the instruction's natural width.
type Memory interface {
	Read32(addr uint32) (uint32, error)
	Write32(addr uint32, v uint32) error
	Write16(addr uint32, v uint16) error
}

// trapCompressed and trapUncompressed are the ebreak encodings installed
// in place of the original instruction.
const (
	trapCompressed   = 0x9002
	trapUncompressed = 0x00100073
)

// Record is the state kept per installed breakpoint address. It never
// holds a pointer to a core: addresses are looked up independently of
// which core happens to be executing them.
type Record struct {
	Original   uint32
	Compressed bool
	Enabled    bool
}

// Table is the full breakpoint set for a target, keyed by address.
type Table struct {
	mem     Memory
	records map[uint32]*Record

	enabledHistory  map[uint32]bool
	disabledHistory map[uint32]bool
}

func NewTable(mem Memory) *Table {
	return &Table{
		mem:             mem,
		records:         make(map[uint32]*Record),
		enabledHistory:  make(map[uint32]bool),
		disabledHistory: make(map[uint32]bool),
	}
}

// isCompressed applies the RISC-V encoding rule: the low two bits of an
// instruction word are 0b11 for a 32-bit instruction, anything else for a
// 16-bit (compressed) one.
func isCompressed(instr uint32) bool {
	return instr&0x3 != 0x3
}

// Insert installs a breakpoint at addr, reusing the existing record if
// one is already there (so a redundant Z0 doesn't reread memory that may
// already hold the trap instruction).
func (t *Table) Insert(addr uint32) error {
	if rec, ok := t.records[addr]; ok {
		if !rec.Enabled {
			if err := t.writeTrap(addr, rec); err != nil {
				return err
			}
			rec.Enabled = true
			t.enabledHistory[addr] = true
		}
		return nil
	}

	instr, err := t.mem.Read32(addr)
	if err != nil {
		return errors.Annotatef(err, "reading original instruction at %#x", addr)
	}
	rec := &Record{Compressed: isCompressed(instr)}
	if rec.Compressed {
		rec.Original = instr & 0xffff
	} else {
		rec.Original = instr
	}
	if err := t.writeTrap(addr, rec); err != nil {
		return err
	}
	rec.Enabled = true
	t.records[addr] = rec
	t.enabledHistory[addr] = true
	return nil
}

func (t *Table) writeTrap(addr uint32, rec *Record) error {
	if rec.Compressed {
		return t.mem.Write16(addr, trapCompressed)
	}
	return t.mem.Write32(addr, trapUncompressed)
}

func (t *Table) restoreOriginal(addr uint32, rec *Record) error {
	if rec.Compressed {
		return t.mem.Write16(addr, uint16(rec.Original))
	}
	return t.mem.Write32(addr, rec.Original)
}

// Remove restores the original instruction and drops the record
// entirely.
func (t *Table) Remove(addr uint32) error {
	rec, ok := t.records[addr]
	if !ok {
		glog.Warningf("breakpoint: remove of unknown address %#x ignored", addr)
		return nil
	}
	if err := t.restoreOriginal(addr, rec); err != nil {
		return errors.Annotatef(err, "restoring instruction at %#x", addr)
	}
	delete(t.records, addr)
	t.disabledHistory[addr] = true
	return nil
}

// Disable writes the original instruction back but keeps the record, so
// a subsequent Insert can re-enable without rereading memory.
func (t *Table) Disable(addr uint32) error {
	rec, ok := t.records[addr]
	if !ok {
		glog.Warningf("breakpoint: disable of unknown address %#x ignored", addr)
		return nil
	}
	if !rec.Enabled {
		glog.Warningf("breakpoint: disable of already-disabled address %#x ignored", addr)
		return nil
	}
	if err := t.restoreOriginal(addr, rec); err != nil {
		return errors.Annotatef(err, "disabling breakpoint at %#x", addr)
	}
	// Set unconditionally on a successful write, matching the enabled
	// /disabled/absent three-state invariant rather than deriving the
	// flag from a second read.
	rec.Enabled = false
	t.disabledHistory[addr] = true
	return nil
}

// DisableAll disables every currently enabled breakpoint without
// removing its record.
func (t *Table) DisableAll() error {
	for addr, rec := range t.records {
		if rec.Enabled {
			if err := t.Disable(addr); err != nil {
				return err
			}
		}
	}
	return nil
}

// EnableAll re-installs the trap instruction for every disabled record.
func (t *Table) EnableAll() error {
	for addr, rec := range t.records {
		if !rec.Enabled {
			if err := t.writeTrap(addr, rec); err != nil {
				return errors.Annotatef(err, "re-enabling breakpoint at %#x", addr)
			}
			rec.Enabled = true
			t.enabledHistory[addr] = true
		}
	}
	return nil
}

// Lookup returns the record at addr, if any, and whether a record exists
// there; whether it is enabled is the record's own Enabled field.
func (t *Table) Lookup(addr uint32) (*Record, bool) {
	rec, ok := t.records[addr]
	return rec, ok
}

// Clear removes every installed breakpoint, restoring original
// instructions everywhere -- the RSP session's disconnect-time "clear
// all breakpoints" step.
func (t *Table) Clear() error {
	for addr := range t.records {
		if err := t.Remove(addr); err != nil {
			return err
		}
	}
	return nil
}

// HaveChanged reports whether any breakpoint has been enabled or
// disabled since the last ClearHistory call -- the signal the target
// model uses to decide whether a resume needs to flush the prefetch
// buffer.
func (t *Table) HaveChanged() bool {
	return len(t.enabledHistory) > 0 || len(t.disabledHistory) > 0
}

func (t *Table) ClearHistory() {
	t.enabledHistory = make(map[uint32]bool)
	t.disabledHistory = make(map[uint32]bool)
}
