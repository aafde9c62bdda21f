package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// The on-disk envelope is:
//
//	magic (4) | argon2 salt (16) | nonce prefix (4)
//	repeated: uint32 sealed-chunk length | sealed chunk
//
// Each chunk seals up to 64 KiB of plaintext; the chunk nonce is the file's
// nonce prefix followed by a little-endian chunk counter, so chunks cannot
// be reordered or replayed across files sharing a passphrase.

// encryptWriter buffers plaintext into chunks and seals them to the
// underlying writer. Close flushes the final partial chunk.
type encryptWriter struct {
	w       io.Writer
	aead    cipher.AEAD
	prefix  []byte
	counter uint64
	buf     []byte
	closed  bool
}

func newEncryptWriter(w io.Writer, passphrase []byte) (*encryptWriter, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	prefix := make([]byte, noncePrefixLen)
	if _, err := rand.Read(prefix); err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}

	header := make([]byte, 0, len(magic)+saltLen+noncePrefixLen)
	header = append(header, magic[:]...)
	header = append(header, salt...)
	header = append(header, prefix...)
	if _, err := w.Write(header); err != nil {
		return nil, err
	}

	return &encryptWriter{
		w:      w,
		aead:   aead,
		prefix: prefix,
		buf:    make([]byte, 0, chunkSize),
	}, nil
}

func (e *encryptWriter) Write(p []byte) (int, error) {
	if e.closed {
		return 0, errors.New("vault: write after close")
	}
	total := len(p)
	for len(p) > 0 {
		room := chunkSize - len(e.buf)
		if room > len(p) {
			room = len(p)
		}
		e.buf = append(e.buf, p[:room]...)
		p = p[room:]
		if len(e.buf) == chunkSize {
			if err := e.flushChunk(); err != nil {
				return total - len(p), err
			}
		}
	}
	return total, nil
}

func (e *encryptWriter) flushChunk() error {
	sealed := e.aead.Seal(nil, chunkNonce(e.prefix, e.counter), e.buf, nil)
	e.counter++
	e.buf = e.buf[:0]

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(sealed)))
	if _, err := e.w.Write(length[:]); err != nil {
		return err
	}
	_, err := e.w.Write(sealed)
	return err
}

// Close seals the trailing partial chunk. Empty sources produce a header
// followed by one empty sealed chunk so decryption can authenticate them.
func (e *encryptWriter) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if len(e.buf) > 0 || e.counter == 0 {
		return e.flushChunk()
	}
	return nil
}

// decryptReader opens sealed chunks from the underlying reader and serves
// plaintext.
type decryptReader struct {
	r       io.Reader
	aead    cipher.AEAD
	prefix  []byte
	counter uint64
	plain   []byte
	eof     bool
}

func newDecryptReader(r io.Reader, passphrase []byte) (*decryptReader, error) {
	header := make([]byte, len(magic)+saltLen+noncePrefixLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("short envelope header: %w", err)
	}
	if string(header[:len(magic)]) != string(magic[:]) {
		return nil, errors.New("not a vault envelope")
	}
	salt := header[len(magic) : len(magic)+saltLen]
	prefix := header[len(magic)+saltLen:]

	aead, err := chacha20poly1305.New(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}

	return &decryptReader{
		r:      r,
		aead:   aead,
		prefix: append([]byte(nil), prefix...),
	}, nil
}

func (d *decryptReader) Read(p []byte) (int, error) {
	for len(d.plain) == 0 {
		if d.eof {
			return 0, io.EOF
		}
		if err := d.readChunk(); err != nil {
			return 0, err
		}
	}
	n := copy(p, d.plain)
	d.plain = d.plain[n:]
	return n, nil
}

func (d *decryptReader) readChunk() error {
	var length [4]byte
	if _, err := io.ReadFull(d.r, length[:]); err != nil {
		if errors.Is(err, io.EOF) {
			d.eof = true
			return nil
		}
		return fmt.Errorf("short chunk header: %w", err)
	}
	sealedLen := binary.BigEndian.Uint32(length[:])
	if sealedLen > chunkSize+uint32(d.aead.Overhead()) {
		return errors.New("vault: chunk length out of range")
	}

	sealed := make([]byte, sealedLen)
	if _, err := io.ReadFull(d.r, sealed); err != nil {
		return fmt.Errorf("short chunk: %w", err)
	}

	plain, err := d.aead.Open(nil, chunkNonce(d.prefix, d.counter), sealed, nil)
	if err != nil {
		return fmt.Errorf("chunk authentication failed: %w", err)
	}
	d.counter++
	d.plain = plain
	return nil
}
