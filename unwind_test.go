// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

import (
	"encoding/binary"
	"testing"
)

func put64(data []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(data[off:off+8], v)
}

func dumpWithModule(base Address, size uint32) *Dump {
	d := testDump(nil)
	d.Modules = []*Module{{BaseOfImage: base, SizeOfImage: size, Name: "test.dll"}}
	d.moduleRanges = buildAddressRangeIndex(d.Modules)
	d.SystemInfo = &SystemInfo{ProcessorArchitecture: ArchAMD64}
	return d
}

func TestUnwindNoContextIsFailed(t *testing.T) {
	d := dumpWithModule(0x400000, 0x10000)
	th := &Thread{}
	d.unwind(th)
	if th.UnwindOutcome != OutcomeFailed {
		t.Errorf("UnwindOutcome = %v, want Failed", th.UnwindOutcome)
	}
	if len(th.StackFrames) != 0 {
		t.Errorf("StackFrames = %v, want empty", th.StackFrames)
	}
}

func TestUnwindNoStackDataProducesOnlyFrameZero(t *testing.T) {
	d := dumpWithModule(0x400000, 0x10000)
	th := &Thread{Context: &StructuredContext{
		GeneralPurpose:     []Register{{Name: "RSP", Value: 0x2000000, Valid: true}},
		InstructionPointer: []Register{{Name: "RIP", Value: 0x401000, Valid: true}},
	}}
	d.unwind(th)
	if th.UnwindOutcome != OutcomeFailed {
		t.Errorf("UnwindOutcome = %v, want Failed", th.UnwindOutcome)
	}
	if len(th.StackFrames) != 1 || th.StackFrames[0].Trust != TrustContext {
		t.Errorf("StackFrames = %+v, want exactly one Context frame", th.StackFrames)
	}
}

func TestUnwindFramePointerChainSucceedsThenStops(t *testing.T) {
	d := dumpWithModule(0x7ff600000000, 0x10000)

	stackStart := uint64(0x1000000)
	data := make([]byte, 32)
	put64(data, 0, stackStart+16)      // [FP]      -> new FP
	put64(data, 8, 0x7ff600001000)     // [FP+8]    -> return address, inside module
	put64(data, 16, 0)                 // [FP2]     -> 0, fails the newFP>FP check
	put64(data, 24, 0x7ff600002000)

	th := &Thread{
		Stack: StackMemory{StartOfMemoryRange: Address(stackStart), Data: data},
		Context: &StructuredContext{
			GeneralPurpose:     []Register{{Name: "RBP", Value: stackStart, Valid: true}},
			Other:              []Register{{Name: "RSP", Value: stackStart, Valid: true}},
			InstructionPointer: []Register{{Name: "RIP", Value: 0x7ff600000500, Valid: true}},
		},
	}

	d.unwind(th)

	if th.UnwindOutcome != OutcomeOk {
		t.Fatalf("UnwindOutcome = %v, want Ok; frames=%+v", th.UnwindOutcome, th.StackFrames)
	}
	if len(th.StackFrames) != 2 {
		t.Fatalf("got %d frames, want 2: %+v", len(th.StackFrames), th.StackFrames)
	}
	if th.StackFrames[1].Trust != TrustFramePointer {
		t.Errorf("frame 1 trust = %v, want frame_pointer", th.StackFrames[1].Trust)
	}
	if th.StackFrames[1].InstructionAddress != 0x7ff600001000 {
		t.Errorf("frame 1 address = 0x%x", th.StackFrames[1].InstructionAddress)
	}
	if th.StackFrames[1].ModuleName != "test.dll" {
		t.Errorf("frame 1 module = %q, want test.dll", th.StackFrames[1].ModuleName)
	}
}

func TestUnwindFallsBackToScanWhenFramePointerFails(t *testing.T) {
	d := dumpWithModule(0x7ff600000000, 0x10000)

	stackStart := uint64(0x1000000)
	data := make([]byte, 64)
	put64(data, 0, 0x1111111111111111) // garbage
	put64(data, 8, 0x2222222222222222) // garbage
	put64(data, 16, 0x7ff600003000)    // return address, inside module
	put64(data, 24, 0x3333333333333333)

	th := &Thread{
		Stack: StackMemory{StartOfMemoryRange: Address(stackStart), Data: data},
		Context: &StructuredContext{
			// RBP == 0 so tryFramePointer fails immediately.
			GeneralPurpose:     []Register{{Name: "RBP", Value: 0, Valid: true}},
			Other:              []Register{{Name: "RSP", Value: stackStart, Valid: true}},
			InstructionPointer: []Register{{Name: "RIP", Value: 0x7ff600000500, Valid: true}},
		},
	}

	d.unwind(th)

	if th.UnwindOutcome != OutcomeFallback {
		t.Fatalf("UnwindOutcome = %v, want Fallback; frames=%+v", th.UnwindOutcome, th.StackFrames)
	}
	if len(th.StackFrames) < 2 {
		t.Fatalf("expected at least 2 frames, got %+v", th.StackFrames)
	}
	if th.StackFrames[1].Trust != TrustScan {
		t.Errorf("frame 1 trust = %v, want scan", th.StackFrames[1].Trust)
	}
	if th.StackFrames[1].InstructionAddress != 0x7ff600003000 {
		t.Errorf("frame 1 address = 0x%x", th.StackFrames[1].InstructionAddress)
	}
}

func TestUnwindScanRespectsSlotBudget(t *testing.T) {
	d := dumpWithModule(0x7ff600000000, 0x10000)
	d.opts.MaxScanSlots = 2

	stackStart := uint64(0x1000000)
	data := make([]byte, 64)
	// Only the third slot (offset 16) holds a word within the module range;
	// that hit should never be reached because the budget is only 2 slots.
	put64(data, 0, 0x1111111111111111)
	put64(data, 8, 0x2222222222222222)
	put64(data, 16, 0x7ff600003000)
	put64(data, 24, 0x3333333333333333)

	th := &Thread{
		Stack: StackMemory{StartOfMemoryRange: Address(stackStart), Data: data},
		Context: &StructuredContext{
			GeneralPurpose:     []Register{{Name: "RBP", Value: 0, Valid: true}},
			Other:              []Register{{Name: "RSP", Value: stackStart, Valid: true}},
			InstructionPointer: []Register{{Name: "RIP", Value: 0x7ff600000500, Valid: true}},
		},
	}

	d.unwind(th)

	if th.UnwindOutcome != OutcomeFailed {
		t.Errorf("UnwindOutcome = %v, want Failed (scan budget exhausted before the hit)", th.UnwindOutcome)
	}
	if len(th.StackFrames) != 1 {
		t.Errorf("StackFrames = %+v, want exactly the context frame", th.StackFrames)
	}
}

func TestResolveModuleLeavesNameEmptyOutsideAnyModule(t *testing.T) {
	d := dumpWithModule(0x400000, 0x1000)
	f := &StackFrame{InstructionAddress: 0x99999999}
	d.resolveModule(f)
	if f.ModuleName != "" {
		t.Errorf("ModuleName = %q, want empty", f.ModuleName)
	}
}
