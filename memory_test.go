// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

import "testing"

func TestDecodeMemoryListCapturedAndMissing(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef}

	const listHeader = 4
	descOff := uint32(listHeader + 2*memoryDescriptorSize)

	captured := rawMemoryDescriptor{StartOfMemoryRange: 0x1000, DataSize: uint32(len(payload)), RVA: descOff}
	missing := rawMemoryDescriptor{StartOfMemoryRange: 0x5000, DataSize: 0x1000, RVA: 0xFFFFFFF0}

	buf := putUint32LE(2)
	buf = append(buf, pack(captured)...)
	buf = append(buf, pack(missing)...)
	buf = append(buf, payload...)

	d := testDump(buf)
	if err := d.decodeMemoryList(StreamDirEntry{Offset: 0, Length: uint32(len(buf))}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Memory) != 2 {
		t.Fatalf("got %d regions, want 2", len(d.Memory))
	}
	if !d.Memory[0].DataCaptured || d.Memory[0].CapturedSize != 4 {
		t.Errorf("region 0 = %+v, want captured 4 bytes", d.Memory[0])
	}
	if d.Memory[1].DataCaptured {
		t.Errorf("region 1 should not be captured: RVA is out of bounds")
	}
	if d.Memory[1].EndAddress != 0x5000+0x1000 {
		t.Errorf("EndAddress = 0x%x", d.Memory[1].EndAddress)
	}
}
