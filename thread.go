// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

import "fmt"

// PriorityClass names the Windows priority class constants.
type PriorityClass uint32

const (
	PriorityClassNormal      PriorityClass = 0x20
	PriorityClassIdle        PriorityClass = 0x40
	PriorityClassHigh        PriorityClass = 0x80
	PriorityClassRealtime    PriorityClass = 0x100
	PriorityClassBelowNormal PriorityClass = 0x4000
	PriorityClassAboveNormal PriorityClass = 0x8000
)

func (p PriorityClass) String() string {
	switch p {
	case PriorityClassNormal:
		return "NORMAL"
	case PriorityClassIdle:
		return "IDLE"
	case PriorityClassHigh:
		return "HIGH"
	case PriorityClassRealtime:
		return "REALTIME"
	case PriorityClassBelowNormal:
		return "BELOW_NORMAL"
	case PriorityClassAboveNormal:
		return "ABOVE_NORMAL"
	}
	return fmt.Sprintf("0x%x", uint32(p))
}

// StackMemory is the captured byte snapshot of a thread's stack, taken from
// the memory descriptor embedded in its MINIDUMP_THREAD record.
type StackMemory struct {
	StartOfMemoryRange Address `json:"start_of_memory_range"`
	Data               []byte  `json:"-"`
}

// Thread is one entry of the ThreadList stream, enriched with its decoded
// context and (after the unwinder runs) its stack frames and outcome.
type Thread struct {
	ThreadID      uint32        `json:"thread_id"`
	SuspendCount  uint32        `json:"suspend_count"`
	PriorityClass PriorityClass `json:"priority_class"`
	Priority      uint32        `json:"priority"`
	Teb           Address       `json:"teb"`

	Stack   StackMemory        `json:"stack"`
	Context *StructuredContext `json:"context,omitempty"`

	StackFrames   []StackFrame  `json:"stack_frames"`
	UnwindOutcome UnwindOutcome `json:"stack_unwinding_method"`

	rawContext []byte
}

// rawThread is the fixed 48-byte on-disk MINIDUMP_THREAD record.
type rawThread struct {
	ThreadID        uint32
	SuspendCount    uint32
	PriorityClass   uint32
	Priority        uint32
	Teb             uint64
	StackStart      uint64
	StackDataSize   uint32
	StackRVA        uint32
	ContextDataSize uint32
	ContextRVA      uint32
}

const threadRecordSize = 48

// decodeThreadList decodes the u32-count-prefixed ThreadList stream into
// d.Threads, preserving directory order. Context classification happens
// here too, ahead of the unwinder pass, since the unwinder needs the
// decoded PC/SP/FP before it can run.
func (d *Dump) decodeThreadList(e StreamDirEntry) error {
	if e.Length == 0 {
		return nil
	}
	count, err := d.ReadUint32(e.Offset)
	if err != nil {
		return &ParseError{Kind: KindTruncated, Stream: e.Name, Reason: err.Error()}
	}

	seen := make(map[uint32]bool, count)
	threads := make([]*Thread, 0, count)
	for i := uint32(0); i < count; i++ {
		off := e.Offset + 4 + i*threadRecordSize
		t, err := d.decodeThread(off)
		if err != nil {
			d.logger.Warnf("thread %d: %v, list truncates here", i, err)
			d.Anomalies = append(d.Anomalies, "ThreadList truncated decoding thread")
			break
		}
		if seen[t.ThreadID] {
			d.Anomalies = append(d.Anomalies, fmt.Sprintf("duplicate thread id 0x%x", t.ThreadID))
		}
		seen[t.ThreadID] = true
		threads = append(threads, t)
	}

	d.Threads = threads
	return nil
}

func (d *Dump) decodeThread(off uint32) (*Thread, error) {
	var raw rawThread
	if err := d.structUnpack(&raw, off, threadRecordSize); err != nil {
		return nil, err
	}

	t := &Thread{
		ThreadID:      raw.ThreadID,
		SuspendCount:  raw.SuspendCount,
		PriorityClass: PriorityClass(raw.PriorityClass),
		Priority:      raw.Priority,
		Teb:           Address(raw.Teb),
		UnwindOutcome: OutcomeFailed,
	}

	t.Stack.StartOfMemoryRange = Address(raw.StackStart)
	if raw.StackDataSize > 0 {
		data, err := d.ReadBytesAtOffset(raw.StackRVA, raw.StackDataSize)
		if err != nil {
			// Clip to whatever is actually available rather than failing the
			// whole thread: a stack snapshot shorter than the declared size
			// is accepted.
			avail := d.size - raw.StackRVA
			if raw.StackRVA > d.size {
				avail = 0
			}
			data, _ = d.ReadBytesAtOffset(raw.StackRVA, avail)
			d.Anomalies = append(d.Anomalies, fmt.Sprintf("thread 0x%x: stack snapshot clipped", raw.ThreadID))
		}
		t.Stack.Data = data
	}

	if raw.ContextDataSize > 0 {
		blob, err := d.ReadBytesAtOffset(raw.ContextRVA, raw.ContextDataSize)
		if err != nil {
			d.logger.Warnf("thread 0x%x: context: %v", raw.ThreadID, err)
		} else {
			t.rawContext = blob
			arch := d.contextArchitecture(blob)
			t.Context = classifyContext(arch, blob)
		}
	}

	return t, nil
}
