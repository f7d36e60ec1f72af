// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

// MemoryRegion is one entry of the MemoryList stream: a captured byte range
// of the crashing process's address space.
type MemoryRegion struct {
	StartAddress Address `json:"start_address"`
	EndAddress   Address `json:"end_address"`
	Size         uint64  `json:"size"`
	DataCaptured bool    `json:"data_captured"`
	CapturedSize uint32  `json:"captured_size"`
}

// rawMemoryDescriptor is the fixed 16-byte MINIDUMP_MEMORY_DESCRIPTOR.
type rawMemoryDescriptor struct {
	StartOfMemoryRange uint64
	DataSize           uint32
	RVA                uint32
}

const memoryDescriptorSize = 16

// decodeMemoryList decodes the u32-count-prefixed MemoryList stream into
// d.Memory.
func (d *Dump) decodeMemoryList(e StreamDirEntry) error {
	if e.Length == 0 {
		return nil
	}
	count, err := d.ReadUint32(e.Offset)
	if err != nil {
		return &ParseError{Kind: KindTruncated, Stream: e.Name, Reason: err.Error()}
	}

	regions := make([]MemoryRegion, 0, count)
	for i := uint32(0); i < count; i++ {
		off := e.Offset + 4 + i*memoryDescriptorSize
		var raw rawMemoryDescriptor
		if err := d.structUnpack(&raw, off, memoryDescriptorSize); err != nil {
			d.logger.Warnf("memory descriptor %d: %v, list truncates here", i, err)
			d.Anomalies = append(d.Anomalies, "MemoryList truncated decoding descriptor")
			break
		}

		region := MemoryRegion{
			StartAddress: Address(raw.StartOfMemoryRange),
			EndAddress:   Address(raw.StartOfMemoryRange + uint64(raw.DataSize)),
			Size:         uint64(raw.DataSize),
		}
		if _, err := d.slice(raw.RVA, raw.DataSize); err == nil {
			region.DataCaptured = true
			region.CapturedSize = raw.DataSize
		}
		regions = append(regions, region)
	}

	d.Memory = regions
	return nil
}
