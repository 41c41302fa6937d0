package signal

import "golang.org/x/arch/x86/x86asm"

// x86 exception vectors this manager turns into signals (spec §4.6
// "synchronous/asynchronous classification"), matching the subset the
// original itas's op_exception handler recognizes.
const (
	vecDivideError    = 0
	vecDebug          = 1
	vecBreakpoint     = 3
	vecOverflow       = 4
	vecBoundRange     = 5
	vecInvalidOpcode  = 6
	vecDeviceNotAvail = 7
	vecGPFault        = 13
	vecPageFault      = 14
	vecAlignCheck     = 17
)

// si_code values used below, matching <bits/siginfo-consts.h>.
const (
	fpeIntDiv  = 1 // FPE_INTDIV
	fpeIntOvf  = 2 // FPE_INTOVF
	illIllOpc  = 1 // ILL_ILLOPC
	segvMapErr = 1 // SEGV_MAPERR
	segvAccErr = 2 // SEGV_ACCERR
	traceBrkpt = 1 // TRAP_BRKPT
)

// ClassifyVector maps a raw CPU exception vector to a signal and si_code;
// ok is false for vectors it does not recognize. text, when non-nil, is decoded to refine si_code
// for vectors where the opcode disambiguates the cause (e.g. divide
// error vs. integer overflow both raise SIGFPE).
func ClassifyVector(vector int, writeFault bool, text []byte) (signo int, code int32, ok bool) {
	switch vector {
	case vecDivideError:
		return SIGFPE, refineFPECode(text), true
	case vecDebug:
		return SIGTRAP, traceBrkpt, true
	case vecBreakpoint:
		return SIGTRAP, traceBrkpt, true
	case vecOverflow:
		return SIGFPE, fpeIntOvf, true
	case vecBoundRange:
		return SIGSEGV, segvAccErr, true
	case vecInvalidOpcode:
		return SIGILL, illIllOpc, true
	case vecDeviceNotAvail:
		return SIGFPE, 0, true
	case vecGPFault:
		return SIGSEGV, segvAccErr, true
	case vecPageFault:
		if writeFault {
			return SIGSEGV, segvAccErr, true
		}
		return SIGSEGV, segvMapErr, true
	case vecAlignCheck:
		return SIGBUS, 0, true
	default:
		return 0, 0, false
	}
}

// refineFPECode decodes the faulting instruction to tell a plain divide
// error (FPE_INTDIV) apart from an IDIV overflow (FPE_INTOVF), which the
// vector number alone does not distinguish. A DIV instruction is reported
// as FPE_INTDIV.
func refineFPECode(text []byte) int32 {
	if len(text) == 0 {
		return fpeIntDiv
	}
	inst, err := x86asm.Decode(text, 64)
	if err != nil {
		return fpeIntDiv
	}
	switch inst.Op {
	case x86asm.IDIV:
		return fpeIntOvf
	default:
		return fpeIntDiv
	}
}
