// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

import (
	"encoding/binary"
	"encoding/hex"
)

// RegisterCategory is one of the six semantic groups a register's raw
// offset is classified into.
type RegisterCategory string

const (
	CategoryInstructionPointer RegisterCategory = "instruction_pointer"
	CategoryGeneralPurpose     RegisterCategory = "general_purpose"
	CategorySegment            RegisterCategory = "segment"
	CategoryFlags              RegisterCategory = "flags"
	CategoryDebug              RegisterCategory = "debug"
	CategoryOther              RegisterCategory = "other"
)

// Register is one decoded entry of a StructuredContext group.
type Register struct {
	Name     string           `json:"name"`
	Value    uint64           `json:"value"`
	Category RegisterCategory `json:"category"`
	Valid    bool             `json:"valid"`
}

// StructuredContext is the classified decomposition of one raw CPU context
// blob.
type StructuredContext struct {
	Architecture ProcessorArchitecture `json:"architecture"`

	GeneralPurpose     []Register `json:"general_purpose,omitempty"`
	InstructionPointer []Register `json:"instruction_pointer,omitempty"`
	Segment            []Register `json:"segment,omitempty"`
	Flags              []Register `json:"flags,omitempty"`
	Debug              []Register `json:"debug,omitempty"`
	Other              []Register `json:"other,omitempty"`

	// ContextDebug is a hex dump of the raw context block, populated only
	// when classification produced no general-purpose or instruction-pointer
	// registers (unknown architecture, or a blob too short to reach them). A
	// blob shorter than the 4-byte ContextFlags word yields an empty context
	// with no dump. A context with general-purpose or instruction-pointer
	// registers never carries this alongside its structured groups.
	ContextDebug string `json:"context_debug,omitempty"`
}

// Get searches every group for a register by name, letting the unwinder
// look up PC/SP/FP without caring which semantic bucket a given
// architecture happened to file them under.
func (c *StructuredContext) Get(name string) (uint64, bool) {
	if c == nil {
		return 0, false
	}
	for _, group := range [][]Register{c.GeneralPurpose, c.InstructionPointer, c.Segment, c.Flags, c.Debug, c.Other} {
		for _, r := range group {
			if r.Name == name && r.Valid {
				return r.Value, true
			}
		}
	}
	return 0, false
}

// regLayout is one table-driven row: a named field at a fixed byte offset
// and width within the raw context blob, tagged with the semantic category
// it belongs to and the ContextFlags bit that must be set for the OS to
// have actually populated it.
type regLayout struct {
	name      string
	offset    uint32
	width     uint8 // 2, 4 or 8
	category  RegisterCategory
	validMask uint32
}

// CONTEXT_* feature bits, shared across the Windows context flag words for
// every architecture in this table (the high 16/arch-tag bits differ but
// the low feature bits below are consistent across x86/amd64/arm/arm64).
const (
	ctxControl  = 0x1
	ctxInteger  = 0x2
	ctxSegments = 0x4
	ctxFloat    = 0x8
	ctxDebugReg = 0x10
)

// x86RegisterTable follows the layout of the Windows x86 CONTEXT structure:
// ContextFlags, Dr0-Dr7, a 112-byte FLOATING_SAVE_AREA, segment registers,
// the general-purpose registers, Ebp/Eip/SegCs/EFlags/Esp/SegSs, then a
// 512-byte extended-registers block.
var x86RegisterTable = []regLayout{
	{"Dr0", 4, 4, CategoryDebug, ctxDebugReg},
	{"Dr1", 8, 4, CategoryDebug, ctxDebugReg},
	{"Dr2", 12, 4, CategoryDebug, ctxDebugReg},
	{"Dr3", 16, 4, CategoryDebug, ctxDebugReg},
	{"Dr6", 20, 4, CategoryDebug, ctxDebugReg},
	{"Dr7", 24, 4, CategoryDebug, ctxDebugReg},
	{"GS", 140, 4, CategorySegment, ctxSegments},
	{"FS", 144, 4, CategorySegment, ctxSegments},
	{"ES", 148, 4, CategorySegment, ctxSegments},
	{"DS", 152, 4, CategorySegment, ctxSegments},
	{"EDI", 156, 4, CategoryGeneralPurpose, ctxInteger},
	{"ESI", 160, 4, CategoryGeneralPurpose, ctxInteger},
	{"EBX", 164, 4, CategoryGeneralPurpose, ctxInteger},
	{"EDX", 168, 4, CategoryGeneralPurpose, ctxInteger},
	{"ECX", 172, 4, CategoryGeneralPurpose, ctxInteger},
	{"EAX", 176, 4, CategoryGeneralPurpose, ctxInteger},
	{"EBP", 180, 4, CategoryGeneralPurpose, ctxControl},
	{"EIP", 184, 4, CategoryInstructionPointer, ctxControl},
	{"CS", 188, 4, CategorySegment, ctxSegments},
	{"EFLAGS", 192, 4, CategoryFlags, ctxControl},
	{"ESP", 196, 4, CategoryOther, ctxControl},
	{"SS", 200, 4, CategorySegment, ctxSegments},
}

// amd64RegisterTable follows the Windows x64 CONTEXT structure: six home
// parameter slots, ContextFlags/MxCsr, segment registers, EFlags, the debug
// registers, and the general-purpose registers through R15, then Rip.
var amd64RegisterTable = []regLayout{
	{"MxCsr", 52, 4, CategoryOther, ctxFloat},
	{"CS", 56, 2, CategorySegment, ctxSegments},
	{"DS", 58, 2, CategorySegment, ctxSegments},
	{"ES", 60, 2, CategorySegment, ctxSegments},
	{"FS", 62, 2, CategorySegment, ctxSegments},
	{"GS", 64, 2, CategorySegment, ctxSegments},
	{"SS", 66, 2, CategorySegment, ctxSegments},
	{"RFLAGS", 68, 4, CategoryFlags, ctxControl},
	{"Dr0", 72, 8, CategoryDebug, ctxDebugReg},
	{"Dr1", 80, 8, CategoryDebug, ctxDebugReg},
	{"Dr2", 88, 8, CategoryDebug, ctxDebugReg},
	{"Dr3", 96, 8, CategoryDebug, ctxDebugReg},
	{"Dr6", 104, 8, CategoryDebug, ctxDebugReg},
	{"Dr7", 112, 8, CategoryDebug, ctxDebugReg},
	{"RAX", 120, 8, CategoryGeneralPurpose, ctxInteger},
	{"RCX", 128, 8, CategoryGeneralPurpose, ctxInteger},
	{"RDX", 136, 8, CategoryGeneralPurpose, ctxInteger},
	{"RBX", 144, 8, CategoryGeneralPurpose, ctxInteger},
	{"RSP", 152, 8, CategoryOther, ctxControl},
	{"RBP", 160, 8, CategoryGeneralPurpose, ctxControl},
	{"RSI", 168, 8, CategoryGeneralPurpose, ctxInteger},
	{"RDI", 176, 8, CategoryGeneralPurpose, ctxInteger},
	{"R8", 184, 8, CategoryGeneralPurpose, ctxInteger},
	{"R9", 192, 8, CategoryGeneralPurpose, ctxInteger},
	{"R10", 200, 8, CategoryGeneralPurpose, ctxInteger},
	{"R11", 208, 8, CategoryGeneralPurpose, ctxInteger},
	{"R12", 216, 8, CategoryGeneralPurpose, ctxInteger},
	{"R13", 224, 8, CategoryGeneralPurpose, ctxInteger},
	{"R14", 232, 8, CategoryGeneralPurpose, ctxInteger},
	{"R15", 240, 8, CategoryGeneralPurpose, ctxInteger},
	{"RIP", 248, 8, CategoryInstructionPointer, ctxControl},
}

// armRegisterTable follows the Windows 32-bit ARM_CONTEXT structure:
// ContextFlags, R0-R12, Sp, Lr, Pc, Cpsr, Fpscr.
var armRegisterTable = []regLayout{
	{"R0", 4, 4, CategoryGeneralPurpose, ctxInteger},
	{"R1", 8, 4, CategoryGeneralPurpose, ctxInteger},
	{"R2", 12, 4, CategoryGeneralPurpose, ctxInteger},
	{"R3", 16, 4, CategoryGeneralPurpose, ctxInteger},
	{"R4", 20, 4, CategoryGeneralPurpose, ctxInteger},
	{"R5", 24, 4, CategoryGeneralPurpose, ctxInteger},
	{"R6", 28, 4, CategoryGeneralPurpose, ctxInteger},
	{"R7", 32, 4, CategoryGeneralPurpose, ctxInteger},
	{"R8", 36, 4, CategoryGeneralPurpose, ctxInteger},
	{"R9", 40, 4, CategoryGeneralPurpose, ctxInteger},
	{"R10", 44, 4, CategoryGeneralPurpose, ctxInteger},
	{"R11", 48, 4, CategoryGeneralPurpose, ctxInteger},
	{"R12", 52, 4, CategoryGeneralPurpose, ctxInteger},
	{"SP", 56, 4, CategoryOther, ctxControl},
	{"LR", 60, 4, CategoryOther, ctxInteger},
	{"PC", 64, 4, CategoryInstructionPointer, ctxControl},
	{"CPSR", 68, 4, CategoryFlags, ctxControl},
	{"FPSCR", 72, 4, CategoryOther, ctxFloat},
}

// arm64RegisterTable follows the Windows ARM64_NT_CONTEXT structure:
// ContextFlags, Cpsr, X0-X30, Sp, Pc, Fpcr, Fpsr.
var arm64RegisterTable = []regLayout{
	{"CPSR", 4, 4, CategoryFlags, ctxControl},
	{"X0", 8, 8, CategoryGeneralPurpose, ctxInteger},
	{"X1", 16, 8, CategoryGeneralPurpose, ctxInteger},
	{"X2", 24, 8, CategoryGeneralPurpose, ctxInteger},
	{"X3", 32, 8, CategoryGeneralPurpose, ctxInteger},
	{"X4", 40, 8, CategoryGeneralPurpose, ctxInteger},
	{"X5", 48, 8, CategoryGeneralPurpose, ctxInteger},
	{"X6", 56, 8, CategoryGeneralPurpose, ctxInteger},
	{"X7", 64, 8, CategoryGeneralPurpose, ctxInteger},
	{"X8", 72, 8, CategoryGeneralPurpose, ctxInteger},
	{"X9", 80, 8, CategoryGeneralPurpose, ctxInteger},
	{"X10", 88, 8, CategoryGeneralPurpose, ctxInteger},
	{"X11", 96, 8, CategoryGeneralPurpose, ctxInteger},
	{"X12", 104, 8, CategoryGeneralPurpose, ctxInteger},
	{"X13", 112, 8, CategoryGeneralPurpose, ctxInteger},
	{"X14", 120, 8, CategoryGeneralPurpose, ctxInteger},
	{"X15", 128, 8, CategoryGeneralPurpose, ctxInteger},
	{"X16", 136, 8, CategoryGeneralPurpose, ctxInteger},
	{"X17", 144, 8, CategoryGeneralPurpose, ctxInteger},
	{"X18", 152, 8, CategoryGeneralPurpose, ctxInteger},
	{"X19", 160, 8, CategoryGeneralPurpose, ctxInteger},
	{"X20", 168, 8, CategoryGeneralPurpose, ctxInteger},
	{"X21", 176, 8, CategoryGeneralPurpose, ctxInteger},
	{"X22", 184, 8, CategoryGeneralPurpose, ctxInteger},
	{"X23", 192, 8, CategoryGeneralPurpose, ctxInteger},
	{"X24", 200, 8, CategoryGeneralPurpose, ctxInteger},
	{"X25", 208, 8, CategoryGeneralPurpose, ctxInteger},
	{"X26", 216, 8, CategoryGeneralPurpose, ctxInteger},
	{"X27", 224, 8, CategoryGeneralPurpose, ctxInteger},
	{"X28", 232, 8, CategoryGeneralPurpose, ctxInteger},
	{"FP", 240, 8, CategoryOther, ctxInteger}, // X29, the AArch64 frame-pointer alias
	{"LR", 248, 8, CategoryOther, ctxInteger}, // X30, the link register
	{"SP", 256, 8, CategoryOther, ctxControl},
	{"PC", 264, 8, CategoryInstructionPointer, ctxControl},
	// The 512-byte V register file sits between Pc and the FP control words.
	{"Fpcr", 784, 4, CategoryOther, ctxFloat},
	{"Fpsr", 788, 4, CategoryOther, ctxFloat},
}

func registerTableFor(arch ProcessorArchitecture) []regLayout {
	switch arch {
	case ArchIntel:
		return x86RegisterTable
	case ArchAMD64:
		return amd64RegisterTable
	case ArchARM:
		return armRegisterTable
	case ArchARM64:
		return arm64RegisterTable
	}
	return nil
}

// classifyContext decomposes a raw context blob into a StructuredContext.
// An architecture outside the table yields an empty structured context with
// ContextDebug populated instead.
func classifyContext(arch ProcessorArchitecture, blob []byte) *StructuredContext {
	sc := &StructuredContext{Architecture: arch}

	if len(blob) < 4 {
		return sc
	}

	table := registerTableFor(arch)
	if table == nil {
		sc.ContextDebug = hex.EncodeToString(blob)
		return sc
	}

	flags := binary.LittleEndian.Uint32(blob[:4])

	for _, row := range table {
		end := row.offset + uint32(row.width)
		if end > uint32(len(blob)) {
			continue
		}
		var value uint64
		switch row.width {
		case 8:
			value = binary.LittleEndian.Uint64(blob[row.offset:end])
		case 4:
			value = uint64(binary.LittleEndian.Uint32(blob[row.offset:end]))
		case 2:
			value = uint64(binary.LittleEndian.Uint16(blob[row.offset:end]))
		}
		valid := flags&row.validMask != 0
		if !valid {
			value = 0
		}
		reg := Register{Name: row.name, Value: value, Category: row.category, Valid: valid}
		switch row.category {
		case CategoryInstructionPointer:
			sc.InstructionPointer = append(sc.InstructionPointer, reg)
		case CategoryGeneralPurpose:
			sc.GeneralPurpose = append(sc.GeneralPurpose, reg)
		case CategorySegment:
			sc.Segment = append(sc.Segment, reg)
		case CategoryFlags:
			sc.Flags = append(sc.Flags, reg)
		case CategoryDebug:
			sc.Debug = append(sc.Debug, reg)
		case CategoryOther:
			sc.Other = append(sc.Other, reg)
		}
	}

	if len(sc.GeneralPurpose) == 0 && len(sc.InstructionPointer) == 0 {
		sc.ContextDebug = hex.EncodeToString(blob)
	}

	return sc
}

// Windows CONTEXT arch tags, carried in the high bits of ContextFlags.
const (
	contextTagI386  = 0x00010000
	contextTagAMD64 = 0x00100000
	contextTagARM   = 0x00200000
	contextTagARM64 = 0x00400000
)

// guessArchFromContextFlags is the fallback used when no
// SystemInfo stream named an architecture, the ContextFlags word's own
// high-bit arch tag is read back out of the context blob itself.
func guessArchFromContextFlags(blob []byte) ProcessorArchitecture {
	if len(blob) < 4 {
		return ProcessorArchitecture(0xFFFF)
	}
	flags := binary.LittleEndian.Uint32(blob[:4])
	switch flags & 0xFFFF0000 {
	case contextTagI386:
		return ArchIntel
	case contextTagAMD64:
		return ArchAMD64
	case contextTagARM:
		return ArchARM
	case contextTagARM64:
		return ArchARM64
	}
	return ProcessorArchitecture(0xFFFF)
}

// contextArchitecture resolves which register table a thread or exception
// context should use: SystemInfo's architecture if decoded, falling back to
// guessArchFromContextFlags(blob) when SystemInfo is absent or named an
// architecture this engine doesn't classify.
func (d *Dump) contextArchitecture(blob []byte) ProcessorArchitecture {
	if d.SystemInfo != nil && d.SystemInfo.ProcessorArchitecture.Supported() {
		return d.SystemInfo.ProcessorArchitecture
	}
	return guessArchFromContextFlags(blob)
}
