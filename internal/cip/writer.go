package cip

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// Writer encrypts everything written to it and appends the trailer on Close.
type Writer struct {
	dst    io.Writer
	stream cipher.Stream
	iv     [BlockSize]byte
	buf    []byte
	closed bool
}

// NewWriter returns a Writer with a random IV.
func NewWriter(dst io.Writer, key []byte) (*Writer, error) {
	var iv [BlockSize]byte
	if _, err := io.ReadFull(rand.Reader, iv[:]); err != nil {
		return nil, fmt.Errorf("cip: generate iv: %w", err)
	}
	return newWriter(dst, key, iv)
}

func newWriter(dst io.Writer, key []byte, iv [BlockSize]byte) (*Writer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cip: %w", err)
	}
	return &Writer{
		dst:    dst,
		stream: cipher.NewCTR(block, iv[:]),
		iv:     iv,
	}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("cip: write after close")
	}
	if cap(w.buf) < len(p) {
		w.buf = make([]byte, len(p))
	}
	out := w.buf[:len(p)]
	w.stream.XORKeyStream(out, p)
	n, err := w.dst.Write(out)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return n, err
}

// Close writes the trailer. It does not close the destination.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_, err := w.dst.Write(w.iv[:])
	return err
}

// Encrypt copies src into dst as a container and returns the plaintext size.
func Encrypt(dst io.Writer, src io.Reader, key []byte) (int64, error) {
	w, err := NewWriter(dst, key)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, src)
	if err != nil {
		return n, err
	}
	return n, w.Close()
}
