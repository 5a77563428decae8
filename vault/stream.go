package vault

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// Sink is the writing side of a vault. Content written to it replaces the
// keystore entry once it is committed.
type Sink interface {
	io.WriteCloser

	// Commit stores the pending content using ctx and releases the sink.
	Commit(ctx context.Context) error

	// Abort releases the sink without storing anything.
	Abort()
}

var _ Sink = (*OutputStream)(nil)

// OutputStream buffers plaintext for a keystore entry. The buffered bytes
// are not stored until Close or Commit returns nil.
//
// Close commits with the context given to PasswordVault.OutputStream; if that
// context may be cancelled before the content is complete, use Commit.
type OutputStream struct {
	v   *PasswordVault
	ctx context.Context

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

// Write appends p to the pending content.
func (s *OutputStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, newError("write", ErrStreamClosed, nil)
	}
	return s.buf.Write(p)
}

// Close encrypts the pending content and stores it, replacing the previous
// keystore content. The stream is released even when storing fails.
func (s *OutputStream) Close() error {
	return s.commit(s.ctx, "close")
}

// Commit is like Close but the backend is accessed with ctx.
func (s *OutputStream) Commit(ctx context.Context) error {
	return s.commit(ctx, "commit")
}

func (s *OutputStream) commit(ctx context.Context, op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newError(op, ErrStreamClosed, nil)
	}
	s.closed = true

	v := s.v
	v.mu.Lock()
	defer v.mu.Unlock()
	defer func() { v.writing = false }()

	content := append([]byte(nil), s.buf.Bytes()...)
	s.wipe()
	return v.commit(ctx, "commit", func(kr *keyring) error {
		return kr.store(v.keystore, content)
	})
}

// Abort releases the stream without storing anything.
func (s *OutputStream) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.wipe()

	s.v.mu.Lock()
	s.v.writing = false
	s.v.mu.Unlock()
}

func (s *OutputStream) wipe() {
	b := s.buf.Bytes()
	wipe(b[:cap(b)])
	s.buf.Reset()
}

type inputStream struct {
	mu     sync.Mutex
	buf    []byte
	r      *bytes.Reader
	closed bool
}

func newInputStream(plaintext []byte) *inputStream {
	return &inputStream{buf: plaintext, r: bytes.NewReader(plaintext)}
}

func (s *inputStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, newError("read", ErrStreamClosed, nil)
	}
	return s.r.Read(p)
}

func (s *inputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newError("close", ErrStreamClosed, nil)
	}
	s.closed = true
	wipe(s.buf)
	s.buf = nil
	return nil
}
