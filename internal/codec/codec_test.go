package codec

import (
	"archive/zip"
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"hash/crc32"
	"testing"

	depoterrors "depotdl/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz/lzma"
)

var testKey = []byte("0123456789abcdef")

// encryptChunk reproduces the wire format Decrypt expects: an AES-ECB
// encrypted IV block followed by an AES-CBC encrypted, PKCS7-padded body.
func encryptChunk(t *testing.T, key, plain []byte) []byte {
	t.Helper()

	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	iv := make([]byte, aes.BlockSize)
	for i := range iv {
		iv[i] = byte(i)
	}

	padLen := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte{}, plain...), bytes.Repeat([]byte{byte(padLen)}, padLen)...)

	body := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(body, padded)

	ivCipher := make([]byte, aes.BlockSize)
	ecb := newECBEncrypter(block)
	ecb.CryptBlocks(ivCipher, iv)

	return append(ivCipher, body...)
}

// newECBEncrypter is the encrypt-side counterpart to ecbDecrypter, used only
// by this test to build fixtures.
type ecbEncrypter struct{ block cipher.Block }

func newECBEncrypter(block cipher.Block) *ecbEncrypter { return &ecbEncrypter{block: block} }

func (e *ecbEncrypter) CryptBlocks(dst, src []byte) {
	bs := e.block.BlockSize()
	for len(src) > 0 {
		e.block.Encrypt(dst[:bs], src[:bs])
		src = src[bs:]
		dst = dst[bs:]
	}
}

func TestDecryptRoundTrip(t *testing.T) {
	plain := []byte("the quick brown fox jumps over the lazy dog")
	ciphertext := encryptChunk(t, testKey, plain)

	got, err := Decrypt(ciphertext, testKey)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestDecryptRejectsShortCiphertext(t *testing.T) {
	_, err := Decrypt([]byte("short"), testKey)
	assert.Error(t, err)
}

func TestDecryptRejectsUnalignedBody(t *testing.T) {
	ciphertext := make([]byte, aes.BlockSize+3)
	_, err := Decrypt(ciphertext, testKey)
	assert.Error(t, err)
}

// buildVZ packs a raw-LZMA1 compressed plaintext into the VZ container
// framing: magic, version, 4 reserved bytes, 5-byte filter properties,
// compressed body, CRC32+size footer, "zv" trailer. The decoder's body
// slice runs one byte past the compressed stream into the checksum field;
// the LZMA end-of-stream marker keeps that stray byte from being consumed.
func buildVZ(t *testing.T, plain []byte) []byte {
	t.Helper()

	props := lzma.Properties{LC: 3, LP: 0, PB: 2}
	var buf bytes.Buffer
	cfg := lzma.WriterConfig{
		Properties:   &props,
		DictCap:      lzma.MinDictCap,
		SizeInHeader: false,
	}
	w, err := cfg.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(plain)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// NewWriter always emits its own 13-byte classic LZMA header first,
	// even with SizeInHeader false; strip it so the fixture matches the
	// real VZ wire format, which stores only the headerless raw stream
	// (decodeVZ reconstructs an equivalent header from the 5-byte props
	// field for the real library's Reader to parse).
	compressed := buf.Bytes()[13:]
	require.NotEmpty(t, compressed)

	propsByte := props.Code()
	dictCapBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(dictCapBytes, uint32(lzma.MinDictCap))

	out := make([]byte, 0, vzPropsEnd+len(compressed)+10)
	out = append(out, 'V', 'Z')
	out = append(out, vzVersionByte)
	out = append(out, 0, 0, 0, 0) // reserved
	out = append(out, propsByte)
	out = append(out, dictCapBytes...)
	out = append(out, compressed...)

	checksum := crc32.ChecksumIEEE(plain)
	checksumBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(checksumBytes, checksum)

	sizeBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(sizeBytes, uint32(len(plain)))

	out = append(out, checksumBytes...)
	out = append(out, sizeBytes...)
	out = append(out, 'z', 'v')
	return out
}

func TestDecodeVZRoundTrip(t *testing.T) {
	plain := bytes.Repeat([]byte("depot chunk payload "), 64)
	vz := buildVZ(t, plain)

	got, err := decodeVZ(vz)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestDecodeVZBadFooter(t *testing.T) {
	vz := buildVZ(t, []byte("hello world"))
	vz[len(vz)-1] = 'x'

	_, err := decodeVZ(vz)
	assert.ErrorIs(t, err, depoterrors.ErrBadVZFooter)
}

func TestDecodeVZUnsupportedVersion(t *testing.T) {
	vz := buildVZ(t, []byte("hello world"))
	vz[2] = 'b'

	_, err := decodeVZ(vz)
	assert.ErrorIs(t, err, depoterrors.ErrUnsupportedVZVersion)
}

func TestDecodeVZTooShort(t *testing.T) {
	_, err := decodeVZ([]byte("VZ"))
	assert.Error(t, err)
}

func TestDecodeZip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("chunk.bin")
	require.NoError(t, err)
	_, err = f.Write([]byte("zipped chunk contents"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	got, err := decodeZip(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "zipped chunk contents", string(got))
}

func TestDecodeDispatchesOnMagic(t *testing.T) {
	plain := []byte("small payload for decode dispatch")
	vz := buildVZ(t, plain)
	ciphertext := encryptChunk(t, testKey, vz)

	got, err := Decode(ciphertext, testKey)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestUnpadPKCS7(t *testing.T) {
	data := append([]byte("1234567890123456"), 16, 16, 16, 16, 16, 16, 16, 16, 16, 16, 16, 16, 16, 16, 16, 16)
	got, err := unpadPKCS7(data)
	require.NoError(t, err)
	assert.Equal(t, []byte("1234567890123456"), got)
}

func TestUnpadPKCS7RejectsInvalidPadding(t *testing.T) {
	_, err := unpadPKCS7([]byte{1, 2, 3, 0})
	assert.Error(t, err)
}
