// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

// TrustLevel is the unwinder's per-frame confidence classification.
type TrustLevel string

const (
	TrustContext      TrustLevel = "context"
	TrustCFI          TrustLevel = "cfi"
	TrustFramePointer TrustLevel = "frame_pointer"
	TrustScan         TrustLevel = "scan"
)

// UnwindOutcome is the terminal state of the unwinder for one thread.
type UnwindOutcome string

const (
	OutcomeOk       UnwindOutcome = "Ok"
	OutcomeFallback UnwindOutcome = "Fallback"
	OutcomeFailed   UnwindOutcome = "Failed"
)

// StackFrame is one frame the unwinder recovered.
type StackFrame struct {
	InstructionAddress Address    `json:"instruction_address"`
	Trust              TrustLevel `json:"trust_level"`
	ModuleName         string     `json:"module_name,omitempty"`
}

// sentinelReturnAddress is the all-ones return address the unwinder treats
// as a termination signal.
const sentinelReturnAddress = ^uint64(0)

// cursor is the shared {PC, SP, FP} state the unwinder's strategies read
// and advance as they dispatch on the current trust level.
type cursor struct {
	PC, SP, FP uint64
}

// unwindState is the unwinder's current strategy. It only ever moves
// forward through decreasing trust (cfi -> framePointer -> scan -> done);
// there is no backward transition once a strategy has failed.
type unwindState int

const (
	stateCFI unwindState = iota
	stateFramePointer
	stateScan
	stateDone
)

// registerAliases names the PC/SP/FP registers for one architecture, since
// the classifier in context.go files them under their native register
// names (EIP vs RIP vs PC, etc).
type registerAliases struct {
	pc, sp, fp string
	wordSize   uint64
}

func aliasesFor(arch ProcessorArchitecture) registerAliases {
	switch arch {
	case ArchIntel:
		return registerAliases{pc: "EIP", sp: "ESP", fp: "EBP", wordSize: 4}
	case ArchAMD64:
		return registerAliases{pc: "RIP", sp: "RSP", fp: "RBP", wordSize: 8}
	case ArchARM:
		return registerAliases{pc: "PC", sp: "SP", fp: "R11", wordSize: 4}
	case ArchARM64:
		return registerAliases{pc: "PC", sp: "SP", fp: "FP", wordSize: 8}
	}
	return registerAliases{}
}

// readWord reads a word-sized little-endian value at addr from the
// thread's captured stack snapshot, clipping to whatever bytes were
// actually captured rather than treating a short capture as an error.
func (t *Thread) readWord(addr, wordSize uint64) (uint64, bool) {
	start := uint64(t.Stack.StartOfMemoryRange)
	if addr < start {
		return 0, false
	}
	off := addr - start
	end := off + wordSize
	if end > uint64(len(t.Stack.Data)) {
		return 0, false
	}
	var v uint64
	for i := uint64(0); i < wordSize; i++ {
		v |= uint64(t.Stack.Data[off+i]) << (8 * i)
	}
	return v, true
}

func (t *Thread) stackEnd() uint64 {
	return uint64(t.Stack.StartOfMemoryRange) + uint64(len(t.Stack.Data))
}

// tryFramePointer implements the frame-pointer unwind strategy: the
// saved frame pointer and return address live at [FP] and [FP+wordSize];
// the new FP must be strictly greater than the current one and still
// within the stack range, and the return address must land in some loaded
// module's range.
func (t *Thread) tryFramePointer(c cursor, aliases registerAliases, idx addressRangeIndex) (newFP, retAddr uint64, ok bool) {
	if c.FP == 0 {
		return 0, 0, false
	}
	newFP, ok1 := t.readWord(c.FP, aliases.wordSize)
	retAddr, ok2 := t.readWord(c.FP+aliases.wordSize, aliases.wordSize)
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	if newFP <= c.FP || newFP < uint64(t.Stack.StartOfMemoryRange) || newFP >= t.stackEnd() {
		return 0, 0, false
	}
	if !idx.contains(retAddr) {
		return 0, 0, false
	}
	return newFP, retAddr, true
}

// alignUp rounds addr up to the next multiple of wordSize.
func alignUp(addr, wordSize uint64) uint64 {
	if rem := addr % wordSize; rem != 0 {
		addr += wordSize - rem
	}
	return addr
}

// tryScanOne implements one step of the scan strategy: starting
// at sp, step word-aligned slots forward until a word lands inside a known
// module's range, or budget/stack runs out. It returns how many slots it
// consumed so the caller can enforce a total scan-slot budget across the
// whole thread.
func (t *Thread) tryScanOne(sp, wordSize uint64, idx addressRangeIndex, budget int) (retAddr, newSP uint64, ok bool, used int) {
	addr := alignUp(sp, wordSize)
	for used = 0; used < budget; used++ {
		v, readOK := t.readWord(addr, wordSize)
		if !readOK {
			return 0, 0, false, used
		}
		if idx.contains(v) {
			return v, addr + wordSize, true, used + 1
		}
		addr += wordSize
	}
	return 0, 0, false, used
}

// unwind runs the four-strategy state machine for one thread and populates
// its StackFrames and UnwindOutcome.
func (d *Dump) unwind(t *Thread) {
	if t.Context == nil {
		t.StackFrames = nil
		t.UnwindOutcome = OutcomeFailed
		return
	}

	arch := d.contextArchitecture(t.rawContext)
	aliases := aliasesFor(arch)

	pc, _ := t.Context.Get(aliases.pc)
	sp, _ := t.Context.Get(aliases.sp)
	fp, _ := t.Context.Get(aliases.fp)

	frame0 := StackFrame{InstructionAddress: Address(pc), Trust: TrustContext}
	d.resolveModule(&frame0)
	frames := []StackFrame{frame0}

	maxFrames := d.opts.MaxFrames
	maxScanSlots := d.opts.MaxScanSlots

	if len(t.Stack.Data) == 0 || pc == 0 || pc == sentinelReturnAddress {
		t.StackFrames = frames
		t.UnwindOutcome = OutcomeFailed
		return
	}

	cur := cursor{PC: pc, SP: sp, FP: fp}
	st := stateCFI
	usedScan := false
	scanSlotsRemaining := maxScanSlots

	for len(frames) < maxFrames && st != stateDone {
		switch st {
		case stateCFI:
			// Call-frame information is never carried in a minidump; this
			// strategy is a permanently-failing stub kept only so the
			// trust taxonomy has a stable CFI slot for a future extension
			// that sources CFI from external debug info.
			st = stateFramePointer

		case stateFramePointer:
			newFP, retAddr, ok := t.tryFramePointer(cur, aliases, d.moduleRanges)
			if !ok {
				st = stateScan
				continue
			}
			if retAddr == 0 || retAddr == sentinelReturnAddress {
				st = stateDone
				continue
			}
			frame := StackFrame{InstructionAddress: Address(retAddr), Trust: TrustFramePointer}
			d.resolveModule(&frame)
			frames = append(frames, frame)
			cur.FP = newFP
			cur.SP = cur.FP + aliases.wordSize*2
			cur.PC = retAddr

		case stateScan:
			if scanSlotsRemaining <= 0 {
				st = stateDone
				continue
			}
			retAddr, newSP, ok, used := t.tryScanOne(cur.SP, aliases.wordSize, d.moduleRanges, scanSlotsRemaining)
			scanSlotsRemaining -= used
			if !ok {
				st = stateDone
				continue
			}
			if retAddr == 0 || retAddr == sentinelReturnAddress {
				st = stateDone
				continue
			}
			frame := StackFrame{InstructionAddress: Address(retAddr), Trust: TrustScan}
			d.resolveModule(&frame)
			frames = append(frames, frame)
			usedScan = true
			cur.SP = newSP
			cur.PC = retAddr
		}
	}

	t.StackFrames = frames
	switch {
	case usedScan:
		t.UnwindOutcome = OutcomeFallback
	case len(frames) >= 2:
		t.UnwindOutcome = OutcomeOk
	default:
		t.UnwindOutcome = OutcomeFailed
	}
}

// resolveModule looks up a frame's instruction address in the module
// address-range index and attaches the owning module's path, leaving it
// empty when the address falls outside every known module.
func (d *Dump) resolveModule(f *StackFrame) {
	i := d.moduleRanges.lookup(uint64(f.InstructionAddress))
	if i < 0 || i >= len(d.Modules) {
		return
	}
	f.ModuleName = d.Modules[i].Name
}
