// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

import "fmt"

// ExceptionCode is the raw NTSTATUS-shaped exception code.
type ExceptionCode uint32

// Exception code table.
const (
	ExceptionAccessViolation      ExceptionCode = 0xC0000005
	ExceptionIllegalInstruction   ExceptionCode = 0xC000001D
	ExceptionIntegerDivideByZero  ExceptionCode = 0xC0000094
	ExceptionIntegerOverflow      ExceptionCode = 0xC0000095
	ExceptionPrivilegedInstruction ExceptionCode = 0xC0000096
	ExceptionStackOverflow        ExceptionCode = 0xC00000FD
	ExceptionArrayBoundsExceeded  ExceptionCode = 0xC000008C
	ExceptionFltDenormalOperand   ExceptionCode = 0xC000008D
	ExceptionFltDivideByZero      ExceptionCode = 0xC000008E
	ExceptionFltInexactResult     ExceptionCode = 0xC000008F
	ExceptionFltInvalidOperation  ExceptionCode = 0xC0000090
	ExceptionFltOverflow          ExceptionCode = 0xC0000091
	ExceptionFltStackCheck        ExceptionCode = 0xC0000092
	ExceptionFltUnderflow         ExceptionCode = 0xC0000093
	ExceptionBreakpoint           ExceptionCode = 0x80000003
	ExceptionSingleStep           ExceptionCode = 0x80000004
)

// String names the exception code, falling back to its hex value for codes
// outside the table this engine recognizes.
func (c ExceptionCode) String() string {
	switch c {
	case ExceptionAccessViolation:
		return "ACCESS_VIOLATION"
	case ExceptionIllegalInstruction:
		return "ILLEGAL_INSTRUCTION"
	case ExceptionIntegerDivideByZero:
		return "INTEGER_DIVIDE_BY_ZERO"
	case ExceptionIntegerOverflow:
		return "INTEGER_OVERFLOW"
	case ExceptionPrivilegedInstruction:
		return "PRIVILEGED_INSTRUCTION"
	case ExceptionStackOverflow:
		return "STACK_OVERFLOW"
	case ExceptionArrayBoundsExceeded:
		return "ARRAY_BOUNDS_EXCEEDED"
	case ExceptionFltDenormalOperand:
		return "FLT_DENORMAL_OPERAND"
	case ExceptionFltDivideByZero:
		return "FLT_DIVIDE_BY_ZERO"
	case ExceptionFltInexactResult:
		return "FLT_INEXACT_RESULT"
	case ExceptionFltInvalidOperation:
		return "FLT_INVALID_OPERATION"
	case ExceptionFltOverflow:
		return "FLT_OVERFLOW"
	case ExceptionFltStackCheck:
		return "FLT_STACK_CHECK"
	case ExceptionFltUnderflow:
		return "FLT_UNDERFLOW"
	case ExceptionBreakpoint:
		return "BREAKPOINT"
	case ExceptionSingleStep:
		return "SINGLE_STEP"
	}
	return fmt.Sprintf("0x%x", uint32(c))
}

const maxExceptionParameters = 15

// ExceptionRecord is the decoded MINIDUMP_EXCEPTION record.
type ExceptionRecord struct {
	Code             ExceptionCode `json:"code"`
	Flags            uint32        `json:"flags"`
	NestedRecord     Address       `json:"nested_record"`
	Address          Address       `json:"address"`
	NumberParameters uint32        `json:"number_parameters"`
	Parameters       []uint64      `json:"parameters"`
}

// Exception is the decoded Exception stream.
type Exception struct {
	ThreadID     uint32             `json:"thread_id"`
	Record       ExceptionRecord    `json:"exception_record"`
	Context      *StructuredContext `json:"context,omitempty"`
	CrashReason  string             `json:"crash_reason"`
	CrashAddress string             `json:"crash_address"`
}

// rawExceptionHeader is MINIDUMP_EXCEPTION's fixed fields up to the
// variable-length (but always-15-slot) parameter vector.
type rawExceptionHeader struct {
	Code             uint32
	Flags            uint32
	NestedRecord     uint64
	Address          uint64
	NumberParameters uint32
	_                uint32
}

const exceptionRecordFixedSize = 4 + 4 + 8 + 8 + 4 + 4 // 32
const exceptionRecordSize = exceptionRecordFixedSize + maxExceptionParameters*8

// decodeException decodes the single Exception stream: ThreadId, an
// 8-byte alignment pad, the MINIDUMP_EXCEPTION record, and a context
// location descriptor.
func (d *Dump) decodeException(e StreamDirEntry) error {
	if e.Length == 0 {
		return nil
	}

	threadID, err := d.ReadUint32(e.Offset)
	if err != nil {
		return &ParseError{Kind: KindTruncated, Stream: e.Name, Reason: err.Error()}
	}

	recOff := e.Offset + 8 // ThreadId + __alignment
	var hdr rawExceptionHeader
	if err := d.structUnpack(&hdr, recOff, exceptionRecordFixedSize); err != nil {
		return &ParseError{Kind: KindTruncated, Stream: e.Name, Reason: err.Error()}
	}

	n := hdr.NumberParameters
	if n > maxExceptionParameters {
		n = maxExceptionParameters
	}
	params := make([]uint64, n)
	paramsOff := recOff + exceptionRecordFixedSize
	for i := uint32(0); i < n; i++ {
		v, err := d.ReadUint64(paramsOff + i*8)
		if err != nil {
			break
		}
		params[i] = v
	}

	code := ExceptionCode(hdr.Code)
	exc := &Exception{
		ThreadID: threadID,
		Record: ExceptionRecord{
			Code:             code,
			Flags:            hdr.Flags,
			NestedRecord:     Address(hdr.NestedRecord),
			Address:          Address(hdr.Address),
			NumberParameters: hdr.NumberParameters,
			Parameters:       params,
		},
		CrashReason:  code.String(),
		CrashAddress: hex64(hdr.Address),
	}

	ctxLocOff := recOff + exceptionRecordSize
	ctxDataSize, err := d.ReadUint32(ctxLocOff)
	if err == nil && ctxDataSize > 0 {
		ctxRVA, err := d.ReadUint32(ctxLocOff + 4)
		if err == nil {
			blob, err := d.ReadBytesAtOffset(ctxRVA, ctxDataSize)
			if err != nil {
				d.logger.Warnf("exception context: %v", err)
			} else {
				arch := d.contextArchitecture(blob)
				exc.Context = classifyContext(arch, blob)
			}
		}
	}

	// The crashing thread should exist in the ThreadList (decoded before this
	// stream). The exception is surfaced either way, just without a
	// cross-link.
	if len(d.Threads) > 0 {
		found := false
		for _, t := range d.Threads {
			if t.ThreadID == threadID {
				found = true
				break
			}
		}
		if !found {
			d.Anomalies = append(d.Anomalies,
				fmt.Sprintf("exception names thread id 0x%x, absent from ThreadList", threadID))
		}
	}

	d.Exception = exc
	return nil
}
