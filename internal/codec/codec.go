// Package codec implements the per-chunk decode pipeline: AES-decrypt the
// chunk blob under the depot key, detect and decompress the VZ (raw LZMA1)
// or ZIP container, and verify the result's CRC32 before it is handed to
// the file writer.
package codec

import (
	"archive/zip"
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	depoterrors "depotdl/internal/errors"
	"github.com/ulikunitz/xz/lzma"
)

const (
	vzMagic       = "VZ"
	vzFooter      = "zv"
	vzVersionByte = 'a'
	vzPropsOffset = 7
	vzPropsEnd    = 12
	// vzMinLen is the smallest chunk that can hold the props region plus a
	// zero-length compressed body and the 10-byte footer (crc32 + size + "zv").
	vzMinLen = vzPropsEnd + 10
)

// Decrypt reverses the SteamKit depot-chunk AES wrapping: the first 16
// bytes of ciphertext are an IV encrypted with AES-ECB under key; decrypting
// those recovers the real IV, which then drives an AES-CBC decrypt of the
// remaining bytes, followed by PKCS7 unpadding. This mirrors
// steam.core.crypto.symmetric_decrypt from SteamKit.
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	if len(ciphertext) < aes.BlockSize*2 {
		return nil, depoterrors.NewCodecError("decrypt", fmt.Errorf("ciphertext too short: %d bytes", len(ciphertext)))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, depoterrors.NewCodecError("decrypt", err)
	}

	ivBlock := make([]byte, aes.BlockSize)
	ecb := newECBDecrypter(block)
	ecb.CryptBlocks(ivBlock, ciphertext[:aes.BlockSize])

	body := ciphertext[aes.BlockSize:]
	if len(body)%aes.BlockSize != 0 {
		return nil, depoterrors.NewCodecError("decrypt", fmt.Errorf("ciphertext body is not block-aligned: %d bytes", len(body)))
	}

	plain := make([]byte, len(body))
	cbc := cipher.NewCBCDecrypter(block, ivBlock)
	cbc.CryptBlocks(plain, body)

	return unpadPKCS7(plain)
}

// Decode runs the complete chunk pipeline: AES decrypt, then VZ/ZIP
// container decode and CRC verification.
func Decode(ciphertext, key []byte) ([]byte, error) {
	plain, err := Decrypt(ciphertext, key)
	if err != nil {
		return nil, err
	}

	if len(plain) >= len(vzMagic)+len(vzFooter) && string(plain[:len(vzMagic)]) == vzMagic {
		return decodeVZ(plain)
	}
	return decodeZip(plain)
}

func decodeVZ(data []byte) ([]byte, error) {
	n := len(data)
	if n < vzMinLen {
		return nil, depoterrors.NewCodecError("vz-footer", fmt.Errorf("chunk too short for VZ framing: %d bytes", n))
	}
	if string(data[n-2:]) != vzFooter {
		return nil, depoterrors.NewCodecError("vz-footer", depoterrors.ErrBadVZFooter)
	}
	if data[2] != vzVersionByte {
		return nil, depoterrors.NewCodecError("vz-version", depoterrors.ErrUnsupportedVZVersion)
	}

	props := data[vzPropsOffset:vzPropsEnd]
	checksum := binary.LittleEndian.Uint32(data[n-10 : n-6])
	decompressedSize := binary.LittleEndian.Uint32(data[n-6 : n-2])
	// The compressed body runs from the end of the props region to 9 bytes
	// before the end of the chunk. That leaves its last byte coinciding with
	// the first byte of the checksum above: LZMA1 sometimes needs that extra
	// trailing byte to flush its final symbol, and reading it twice is
	// harmless since neither read mutates data.
	body := data[vzPropsEnd : n-9]

	decompressed, err := decompressRawLZMA1(body, props)
	if err != nil {
		return nil, depoterrors.NewCodecError("vz-decompress", err)
	}

	// The decompressor may emit a longer or shorter buffer than declared;
	// CRC32 below is the only integrity check that matters.
	if uint32(len(decompressed)) > decompressedSize {
		decompressed = decompressed[:decompressedSize]
	}

	if crc32.ChecksumIEEE(decompressed) != checksum {
		return nil, depoterrors.NewCodecError("crc", depoterrors.ErrCRCMismatch)
	}

	return decompressed, nil
}

// decompressRawLZMA1 decompresses a headerless LZMA1 stream given its raw
// 5-byte filter properties blob: byte 0 packs (lc, lp, pb), bytes 1-4 are
// the little-endian dictionary size.
func decompressRawLZMA1(body, propsBytes []byte) ([]byte, error) {
	if len(propsBytes) != 5 {
		return nil, fmt.Errorf("lzma1 properties must be 5 bytes, got %d", len(propsBytes))
	}

	if _, err := lzma.PropertiesForCode(propsBytes[0]); err != nil {
		return nil, fmt.Errorf("lzma1 properties: %w", err)
	}

	dictCap := int(binary.LittleEndian.Uint32(propsBytes[1:5]))
	if dictCap < lzma.MinDictCap {
		dictCap = lzma.MinDictCap
	}

	// lzma.Reader only accepts the classic 13-byte LZMA header (5 props
	// bytes + 8 size bytes), not bare properties, so rebuild it here with
	// the uncompressed-size field set to "unknown" (all-0xFF) since the VZ
	// framing carries its own size separately.
	header := make([]byte, 13)
	copy(header[:5], propsBytes)
	for i := 5; i < 13; i++ {
		header[i] = 0xFF
	}

	cfg := lzma.ReaderConfig{
		DictCap: dictCap,
	}

	r, err := cfg.NewReader(io.MultiReader(bytes.NewReader(header), bytes.NewReader(body)))
	if err != nil {
		return nil, fmt.Errorf("open lzma1 stream: %w", err)
	}

	return io.ReadAll(r)
}

func decodeZip(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, depoterrors.NewCodecError("zip", err)
	}
	if len(zr.File) == 0 {
		return nil, depoterrors.NewCodecError("zip", fmt.Errorf("chunk zip archive has no entries"))
	}

	f, err := zr.File[0].Open()
	if err != nil {
		return nil, depoterrors.NewCodecError("zip", err)
	}
	defer f.Close()

	return io.ReadAll(f)
}

func unpadPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(data) {
		return nil, fmt.Errorf("invalid PKCS7 padding")
	}
	return data[:len(data)-padLen], nil
}

// ecbDecrypter implements ECB-mode decryption for the single-block IV
// recovery step. ECB is intentionally not exposed as a general-purpose
// cipher.BlockMode beyond this narrow use.
type ecbDecrypter struct {
	block cipher.Block
}

func newECBDecrypter(block cipher.Block) *ecbDecrypter {
	return &ecbDecrypter{block: block}
}

func (e *ecbDecrypter) CryptBlocks(dst, src []byte) {
	bs := e.block.BlockSize()
	for len(src) > 0 {
		e.block.Decrypt(dst[:bs], src[:bs])
		src = src[bs:]
		dst = dst[bs:]
	}
}
