// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

import "fmt"

// MemoryState names the MEM_* region state codes.
type MemoryState uint32

const (
	MemCommit  MemoryState = 0x1000
	MemReserve MemoryState = 0x2000
	MemFree    MemoryState = 0x10000
)

func (s MemoryState) String() string {
	switch s {
	case MemCommit:
		return "MEM_COMMIT"
	case MemReserve:
		return "MEM_RESERVE"
	case MemFree:
		return "MEM_FREE"
	}
	return fmt.Sprintf("0x%x", uint32(s))
}

// MemoryProtect names the PAGE_* protection codes.
type MemoryProtect uint32

const (
	PageNoAccess             MemoryProtect = 0x01
	PageReadOnly             MemoryProtect = 0x02
	PageReadWrite            MemoryProtect = 0x04
	PageWriteCopy            MemoryProtect = 0x08
	PageExecute              MemoryProtect = 0x10
	PageExecuteRead          MemoryProtect = 0x20
	PageExecuteReadWrite     MemoryProtect = 0x40
	PageExecuteWriteCopy     MemoryProtect = 0x80
	PageGuard                MemoryProtect = 0x100
	PageNoCache              MemoryProtect = 0x200
	PageWriteCombine         MemoryProtect = 0x400
)

func (p MemoryProtect) String() string {
	names := map[MemoryProtect]string{
		PageNoAccess: "PAGE_NOACCESS", PageReadOnly: "PAGE_READONLY",
		PageReadWrite: "PAGE_READWRITE", PageWriteCopy: "PAGE_WRITECOPY",
		PageExecute: "PAGE_EXECUTE", PageExecuteRead: "PAGE_EXECUTE_READ",
		PageExecuteReadWrite: "PAGE_EXECUTE_READWRITE", PageExecuteWriteCopy: "PAGE_EXECUTE_WRITECOPY",
		PageGuard: "PAGE_GUARD", PageNoCache: "PAGE_NOCACHE", PageWriteCombine: "PAGE_WRITECOMBINE",
	}
	base := p &^ (PageGuard | PageNoCache | PageWriteCombine)
	modifiers := p &^ base
	name, ok := names[base]
	if !ok {
		return fmt.Sprintf("0x%x", uint32(p))
	}
	for _, mod := range []MemoryProtect{PageGuard, PageNoCache, PageWriteCombine} {
		if modifiers&mod != 0 {
			name += "|" + names[mod]
		}
	}
	return name
}

// MemoryType names the MEM_* mapping-type codes.
type MemoryType uint32

const (
	MemImage   MemoryType = 0x1000000
	MemMapped  MemoryType = 0x40000
	MemPrivate MemoryType = 0x20000
)

func (t MemoryType) String() string {
	switch t {
	case MemImage:
		return "MEM_IMAGE"
	case MemMapped:
		return "MEM_MAPPED"
	case MemPrivate:
		return "MEM_PRIVATE"
	case 0:
		return ""
	}
	return fmt.Sprintf("0x%x", uint32(t))
}

// MemoryInfoRange is one entry of the MemoryInfoList stream: a VAD-derived
// description of a region's allocation state and protection, independent
// of whether its bytes were captured in the MemoryList stream.
type MemoryInfoRange struct {
	BaseAddress       Address       `json:"base_address"`
	AllocationBase    Address       `json:"allocation_base"`
	AllocationProtect MemoryProtect `json:"allocation_protect"`
	RegionSize        uint64        `json:"region_size"`
	State             MemoryState   `json:"state"`
	Protect           MemoryProtect `json:"protect"`
	Type              MemoryType    `json:"type"`

	// Name companions of the numeric codes above, so the presentation layer
	// never hand-rolls a lookup table.
	AllocationProtectName string `json:"allocation_protect_name"`
	StateName             string `json:"state_name"`
	ProtectName           string `json:"protect_name"`
	TypeName              string `json:"type_name"`
}

type rawMemoryInfoListHeader struct {
	SizeOfHeader    uint32
	SizeOfEntry     uint32
	NumberOfEntries uint64
}

const memoryInfoListHeaderSize = 16

type rawMemoryInfoEntry struct {
	BaseAddress       uint64
	AllocationBase    uint64
	AllocationProtect uint32
	_                 uint32
	RegionSize        uint64
	State             uint32
	Protect           uint32
	Type              uint32
	_                 uint32
}

const memoryInfoEntrySize = 48

// decodeMemoryInfoList decodes the MemoryInfoList stream.
// SizeOfEntry is honored rather than assumed, so a future larger entry
// format would just have its extra tail bytes ignored instead of
// misaligning every subsequent entry.
func (d *Dump) decodeMemoryInfoList(e StreamDirEntry) error {
	if e.Length == 0 {
		return nil
	}

	var hdr rawMemoryInfoListHeader
	if err := d.structUnpack(&hdr, e.Offset, memoryInfoListHeaderSize); err != nil {
		return &ParseError{Kind: KindTruncated, Stream: e.Name, Reason: err.Error()}
	}
	if hdr.SizeOfEntry == 0 {
		return &ParseError{Kind: KindMalformedRecord, Stream: e.Name, Reason: "zero-sized memory info entry"}
	}

	ranges := make([]MemoryInfoRange, 0, hdr.NumberOfEntries)
	base := e.Offset + hdr.SizeOfHeader
	for i := uint64(0); i < hdr.NumberOfEntries; i++ {
		off := base + uint32(i)*hdr.SizeOfEntry
		var raw rawMemoryInfoEntry
		if err := d.structUnpack(&raw, off, memoryInfoEntrySize); err != nil {
			d.logger.Warnf("memory info entry %d: %v, list truncates here", i, err)
			d.Anomalies = append(d.Anomalies, "MemoryInfoList truncated decoding entry")
			break
		}
		r := MemoryInfoRange{
			BaseAddress:       Address(raw.BaseAddress),
			AllocationBase:    Address(raw.AllocationBase),
			AllocationProtect: MemoryProtect(raw.AllocationProtect),
			RegionSize:        raw.RegionSize,
			State:             MemoryState(raw.State),
			Protect:           MemoryProtect(raw.Protect),
			Type:              MemoryType(raw.Type),
		}
		r.AllocationProtectName = r.AllocationProtect.String()
		r.StateName = r.State.String()
		r.ProtectName = r.Protect.String()
		r.TypeName = r.Type.String()
		ranges = append(ranges, r)
	}

	d.MemoryInfo = ranges
	return nil
}
