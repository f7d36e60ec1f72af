// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

import (
	"encoding/binary"
	"testing"
)

func TestClassifyContextAMD64(t *testing.T) {
	blob := make([]byte, 320)
	flags := uint32(contextTagAMD64) | ctxControl | ctxInteger
	binary.LittleEndian.PutUint32(blob[0:4], flags)
	binary.LittleEndian.PutUint64(blob[248:256], 0x00007ff612345678) // Rip
	binary.LittleEndian.PutUint64(blob[152:160], 0x0000003412340000) // Rsp
	binary.LittleEndian.PutUint64(blob[120:128], 0xdeadbeefdeadbeef) // Rax

	sc := classifyContext(ArchAMD64, blob)
	v, ok := sc.Get("RIP")
	if !ok || v != 0x00007ff612345678 {
		t.Errorf("RIP = 0x%x, ok=%v", v, ok)
	}
	rsp, ok := sc.Get("RSP")
	if !ok || rsp != 0x0000003412340000 {
		t.Errorf("RSP = 0x%x, ok=%v", rsp, ok)
	}
	if _, ok := sc.Get("Dr0"); ok {
		t.Error("Dr0 should be invalid: ctxDebugReg not set")
	}
}

func TestClassifyContextUnknownArchitectureFallsBackToHexDump(t *testing.T) {
	blob := make([]byte, 32)
	sc := classifyContext(ProcessorArchitecture(0xFFFF), blob)
	if sc.ContextDebug == "" {
		t.Error("expected ContextDebug to be populated for an unsupported architecture")
	}
	if len(sc.GeneralPurpose) != 0 || len(sc.InstructionPointer) != 0 {
		t.Error("an unsupported architecture should produce no structured groups")
	}
}

func TestGuessArchFromContextFlags(t *testing.T) {
	blob := make([]byte, 4)
	binary.LittleEndian.PutUint32(blob, contextTagARM64|ctxControl)
	if got := guessArchFromContextFlags(blob); got != ArchARM64 {
		t.Errorf("guessArchFromContextFlags = %v, want ArchARM64", got)
	}
}

func TestContextArchitectureFallsBackWithoutSystemInfo(t *testing.T) {
	d := testDump(nil)
	blob := make([]byte, 4)
	binary.LittleEndian.PutUint32(blob, contextTagI386|ctxControl)
	if got := d.contextArchitecture(blob); got != ArchIntel {
		t.Errorf("contextArchitecture = %v, want ArchIntel", got)
	}
}

func TestContextArchitecturePrefersSystemInfo(t *testing.T) {
	d := testDump(nil)
	d.SystemInfo = &SystemInfo{ProcessorArchitecture: ArchARM}
	blob := make([]byte, 4)
	binary.LittleEndian.PutUint32(blob, contextTagAMD64|ctxControl)
	if got := d.contextArchitecture(blob); got != ArchARM {
		t.Errorf("contextArchitecture = %v, want ArchARM (from SystemInfo)", got)
	}
}

func TestRegisterGetSkipsInvalidRegisters(t *testing.T) {
	sc := &StructuredContext{
		GeneralPurpose: []Register{{Name: "EAX", Value: 0x42, Valid: false}},
	}
	if _, ok := sc.Get("EAX"); ok {
		t.Error("Get should not return an invalid register")
	}
}
