// Package vault stores captured media encrypted at rest. Each captured
// message gets one file keyed by its message and chat id; content is
// sealed in 64 KiB ChaCha20-Poly1305 chunks under a key derived from the
// configured passphrase with argon2id.
package vault

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrTooLarge is returned by Capture when the source exceeds the
// configured size ceiling. The caller stores the record without media
// rather than aborting the event.
var ErrTooLarge = errors.New("media exceeds maximum capturable size")

var magic = [4]byte{'T', 'G', 'V', '1'}

const (
	saltLen        = 16
	noncePrefixLen = 4
	chunkSize      = 64 * 1024

	// argon2id parameters per OWASP recommendations.
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 2
	keyLen       = 32
)

// Vault is the encrypted media store rooted at a single directory.
type Vault struct {
	root       string
	passphrase []byte
	maxSize    int64
	logger     *slog.Logger
}

// New creates a vault rooted at dir, creating the directory if absent.
// maxSize caps the size of a single capture in bytes.
func New(dir, passphrase string, maxSize int64, logger *slog.Logger) (*Vault, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	return &Vault{
		root:       dir,
		passphrase: []byte(passphrase),
		maxSize:    maxSize,
		logger:     logger.With("component", "vault"),
	}, nil
}

// Path returns the deterministic file path for a (message id, chat id)
// pair. Concurrent handlers never contend on the same path in practice.
func (v *Vault) Path(id, chatID int64) string {
	return filepath.Join(v.root, fmt.Sprintf("%d_%d", id, chatID))
}

// Capture streams the media source into an encrypted file at the
// deterministic path for (id, chatID). size is the source size as reported
// by the platform; sources above the ceiling are rejected with ErrTooLarge
// before any bytes are written. The download callback receives the sink to
// write plaintext into. Failures never leave partial output at the final
// path: content is staged in a temp file and renamed into place.
func (v *Vault) Capture(id, chatID, size int64, download func(io.Writer) error) error {
	if v.maxSize > 0 && size > v.maxSize {
		return fmt.Errorf("%w (%d bytes)", ErrTooLarge, size)
	}

	final := v.Path(id, chatID)
	tmp, err := os.CreateTemp(v.root, ".capture-*")
	if err != nil {
		return fmt.Errorf("failed to create capture file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	enc, err := newEncryptWriter(tmp, v.passphrase)
	if err != nil {
		cleanup()
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	if err := download(enc); err != nil {
		cleanup()
		return fmt.Errorf("failed to download media: %w", err)
	}
	if err := enc.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to finalize encryption: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close capture file: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to store capture: %w", err)
	}

	v.logger.Debug("Media captured", "message_id", id, "chat_id", chatID, "path", final)
	return nil
}

// Open returns a decrypting reader over the vault file for (id, chatID).
// Closing the reader always releases the underlying file. A missing file
// satisfies errors.Is(err, fs.ErrNotExist); reconciliation treats that as
// "media unavailable" rather than fatal.
func (v *Vault) Open(id, chatID int64) (io.ReadCloser, error) {
	f, err := os.Open(v.Path(id, chatID))
	if err != nil {
		return nil, fmt.Errorf("failed to open vault file: %w", err)
	}
	dec, err := newDecryptReader(f, v.passphrase)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize decryption: %w", err)
	}
	return &scopedReader{r: dec, c: f}, nil
}

// Sweep removes every file under the vault root whose modification time
// predates now - maxAge and returns the number removed. Files already gone
// mid-walk are skipped, not errors; the reaper and event handlers share
// the filesystem without locking.
func (v *Vault) Sweep(now time.Time, maxAge time.Duration) (int, error) {
	cutoff := now.Add(-maxAge)
	removed := 0

	err := filepath.WalkDir(v.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("failed to sweep media directory: %w", err)
	}
	return removed, nil
}

// scopedReader couples a decrypting reader to the file it draws from so a
// single Close releases both on every exit path.
type scopedReader struct {
	r io.Reader
	c io.Closer
}

func (s *scopedReader) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s *scopedReader) Close() error               { return s.c.Close() }

func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, keyLen)
}

func chunkNonce(prefix []byte, counter uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	copy(nonce, prefix)
	binary.LittleEndian.PutUint64(nonce[noncePrefixLen:], counter)
	return nonce
}
