package opdesc

import (
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() ProfOpDesc {
	return ProfOpDesc{
		ModelID:       220000003,
		Flag:          FlagSubscribeOp,
		ThreadID:      7,
		OpIndex:       1,
		Duration:      2000,
		Start:         1000,
		End:           3000,
		ExecutionTime: 1500,
		DeviceID:      2,
	}
}

func TestSignature_CheckValue(t *testing.T) {
	// CRC-32C check value of "123456789" is 0xE3069283; the signature keeps the
	// register without the final inversion.
	assert.Equal(t, uint32(0x1CF96D7C), ^crc32.Checksum([]byte("123456789"), castagnoli))
	assert.Equal(t, uint32(0xF26B8303), castagnoli[1])
}

func TestEncode_Layout(t *testing.T) {
	d := sample()
	d.Sign()
	buf := d.Encode()

	require.Len(t, buf, Size)
	assert.Equal(t, d.Signature, binary.LittleEndian.Uint32(buf[0:]))
	assert.Equal(t, uint32(220000003), binary.LittleEndian.Uint32(buf[4:]))
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(buf[12:]))
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(buf[16:]))
	assert.Equal(t, uint64(3000), binary.LittleEndian.Uint64(buf[40:]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(buf[72:]))
	assert.Equal(t, []byte{0, 0, 0, 0}, buf[76:])
}

func TestVerify_DetectsTampering(t *testing.T) {
	d := sample()
	d.Sign()
	buf := d.Encode()
	require.NoError(t, Verify(buf))

	buf[40] ^= 0x01
	assert.ErrorIs(t, Verify(buf), ErrBadSignature)
}

func TestSign_ChangesWithFields(t *testing.T) {
	a := sample()
	a.Sign()
	b := sample()
	b.ModelID++
	b.Sign()
	assert.NotEqual(t, a.Signature, b.Signature)
}

func TestDecodeAll(t *testing.T) {
	a := sample()
	a.Sign()
	b := sample()
	b.OpIndex = 2
	b.Sign()

	buf := append(a.Encode(), b.Encode()...)
	n, err := OpNum(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := DecodeAll(buf)
	require.NoError(t, err)
	assert.Equal(t, []ProfOpDesc{a, b}, got)

	_, err = OpNum(buf[:Size+1])
	assert.ErrorIs(t, err, ErrBadLength)
	_, err = Decode(buf[:10])
	assert.ErrorIs(t, err, ErrBadLength)
}

// TestProperty_EncodeDecodeVerify tests the descriptor codec.
//
// Property: For any descriptor, a signed encoding verifies and decodes back to
// the same fields.
func TestProperty_EncodeDecodeVerify(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	properties.Property("signed descriptors verify", prop.ForAll(
		func(model, thread uint32, start, dur uint64) bool {
			d := ProfOpDesc{ModelID: model, ThreadID: thread, Start: start, End: start + dur, Duration: dur, OpIndex: 1}
			d.Sign()
			buf := d.Encode()
			if Verify(buf) != nil {
				return false
			}
			back, err := Decode(buf)
			return err == nil && back == d
		},
		gen.UInt32(),
		gen.UInt32(),
		gen.UInt64Range(0, 1<<40),
		gen.UInt64Range(0, 1<<20),
	))
	properties.TestingRun(t)
}
