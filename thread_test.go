// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

import (
	"encoding/binary"
	"testing"
)

// buildThreadListBuffer lays out a u32 count followed by one thread record,
// whose stack and context are referenced by RVA into the same buffer.
func buildThreadListBuffer(threadID uint32, stack, context []byte) []byte {
	const listHeader = 4
	stackOff := uint32(listHeader + threadRecordSize)
	ctxOff := stackOff + uint32(len(stack))

	raw := rawThread{
		ThreadID:        threadID,
		Teb:             0x7ff000,
		StackStart:      0x2000000,
		StackDataSize:   uint32(len(stack)),
		StackRVA:        stackOff,
		ContextDataSize: uint32(len(context)),
		ContextRVA:      ctxOff,
	}
	buf := putUint32LE(1)
	buf = append(buf, pack(raw)...)
	buf = append(buf, stack...)
	buf = append(buf, context...)
	return buf
}

func amd64ContextBlob(rip, rsp, rbp uint64) []byte {
	blob := make([]byte, 320)
	binary.LittleEndian.PutUint32(blob[0:4], contextTagAMD64|ctxControl|ctxInteger)
	binary.LittleEndian.PutUint64(blob[248:256], rip)
	binary.LittleEndian.PutUint64(blob[152:160], rsp)
	binary.LittleEndian.PutUint64(blob[160:168], rbp)
	return blob
}

func TestDecodeThreadListSingleThread(t *testing.T) {
	stack := make([]byte, 256)
	ctx := amd64ContextBlob(0x7ff612340000, 0x2000ff00, 0x2000ff80)
	buf := buildThreadListBuffer(0x1234, stack, ctx)

	d := testDump(buf)
	if err := d.decodeThreadList(StreamDirEntry{Offset: 0, Length: uint32(len(buf))}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Threads) != 1 {
		t.Fatalf("got %d threads, want 1", len(d.Threads))
	}
	th := d.Threads[0]
	if th.ThreadID != 0x1234 {
		t.Errorf("ThreadID = 0x%x", th.ThreadID)
	}
	if th.Context == nil {
		t.Fatal("Context not decoded")
	}
	rip, ok := th.Context.Get("RIP")
	if !ok || rip != 0x7ff612340000 {
		t.Errorf("RIP = 0x%x, ok=%v", rip, ok)
	}
	if len(th.Stack.Data) != 256 {
		t.Errorf("Stack.Data length = %d, want 256", len(th.Stack.Data))
	}
}

func TestDecodeThreadListNoContextProducesNilContext(t *testing.T) {
	buf := buildThreadListBuffer(1, nil, nil)
	d := testDump(buf)
	if err := d.decodeThreadList(StreamDirEntry{Offset: 0, Length: uint32(len(buf))}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Threads[0].Context != nil {
		t.Error("Context should be nil when ContextDataSize is 0")
	}
}

func TestDecodeThreadListDuplicateIDIsAnomaly(t *testing.T) {
	one := buildThreadListBuffer(7, nil, nil)[4 : 4+threadRecordSize]
	buf := putUint32LE(2)
	buf = append(buf, one...)
	buf = append(buf, one...)

	d := testDump(buf)
	if err := d.decodeThreadList(StreamDirEntry{Offset: 0, Length: uint32(len(buf))}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, a := range d.Anomalies {
		if a == "duplicate thread id 0x7" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a duplicate thread id anomaly, got %v", d.Anomalies)
	}
}
