package cip

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"
)

// Reader gives random access to the plaintext of a container.
type Reader struct {
	src   io.ReaderAt
	size  int64
	block cipher.Block
	iv    [BlockSize]byte
}

// NewReader reads the trailer of the container held in src (physicalSize
// bytes long) and prepares it for decryption with key.
func NewReader(src io.ReaderAt, physicalSize int64, key []byte) (*Reader, error) {
	if physicalSize < TrailerSize {
		return nil, ErrTruncated
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cip: %w", err)
	}

	r := &Reader{src: src, size: physicalSize - TrailerSize, block: block}
	n, err := src.ReadAt(r.iv[:], r.size)
	if n < TrailerSize {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("cip: read trailer: %w", err)
	}
	return r, nil
}

// Size is the plaintext length.
func (r *Reader) Size() int64 {
	return r.size
}

// ReadAt decrypts len(p) bytes starting at plaintext offset off. Reads past
// the end are clamped and report io.EOF. A short read from the underlying
// source is returned as is, together with its error.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("cip: negative offset %d", off)
	}
	if off >= r.size {
		return 0, io.EOF
	}
	clamped := false
	if remain := r.size - off; int64(len(p)) > remain {
		p = p[:remain]
		clamped = true
	}

	n, err := r.src.ReadAt(p, off)
	if n > 0 {
		r.xor(p[:n], off)
	}
	if err == nil && clamped {
		err = io.EOF
	}
	return n, err
}

func (r *Reader) xor(buf []byte, off int64) {
	stream := cipher.NewCTR(r.block, counterAt(r.iv, uint64(off/BlockSize)))
	if skip := int(off % BlockSize); skip > 0 {
		var discard [BlockSize]byte
		stream.XORKeyStream(discard[:skip], discard[:skip])
	}
	stream.XORKeyStream(buf, buf)
}
