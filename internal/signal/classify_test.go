package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyVectorPageFaultWriteVsRead(t *testing.T) {
	signo, code, ok := ClassifyVector(vecPageFault, true, nil)
	assert.True(t, ok)
	assert.Equal(t, SIGSEGV, signo)
	assert.EqualValues(t, segvAccErr, code)

	signo, code, ok = ClassifyVector(vecPageFault, false, nil)
	assert.True(t, ok)
	assert.Equal(t, SIGSEGV, signo)
	assert.EqualValues(t, segvMapErr, code)
}

func TestClassifyVectorInvalidOpcodeIsSIGILL(t *testing.T) {
	signo, _, ok := ClassifyVector(vecInvalidOpcode, false, nil)
	assert.True(t, ok)
	assert.Equal(t, SIGILL, signo)
}

func TestClassifyVectorUnknownVectorFails(t *testing.T) {
	_, _, ok := ClassifyVector(0xff, false, nil)
	assert.False(t, ok)
}

func TestRefineFPECodeDistinguishesIDIVFromPlainDivide(t *testing.T) {
	// "48 f7 f9" = idiv rcx (REX.W + F7 /7), the overflow-capable form.
	idiv := []byte{0x48, 0xf7, 0xf9}
	assert.EqualValues(t, fpeIntOvf, refineFPECode(idiv))

	// nop: not a divide instruction at all, falls back to the plain code.
	nop := []byte{0x90}
	assert.EqualValues(t, fpeIntDiv, refineFPECode(nop))
}

func TestRefineFPECodeEmptyTextDefaultsToIntDiv(t *testing.T) {
	assert.EqualValues(t, fpeIntDiv, refineFPECode(nil))
}
