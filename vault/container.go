package vault

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// CurrentRevision represents the version of the container format.
// The value must be incremented for every change that breaks the
// compatibility with the existing binary format.
const CurrentRevision uint16 = 2

const (
	revSize  = 2
	kdfSize  = 1
	idSize   = 16
	headSize = revSize + kdfSize + idSize + saltSize
)

type header struct {
	rev  uint16
	kdf  KDF
	id   uuid.UUID
	salt []byte
}

// bytes returns the encoded header, which is also the associated data of the
// ciphertext.
func (h *header) bytes() []byte {
	buf := make([]byte, headSize)
	binary.LittleEndian.PutUint16(buf[0:revSize], h.rev)
	buf[revSize] = byte(h.kdf)
	copy(buf[revSize+kdfSize:], h.id[:])
	copy(buf[revSize+kdfSize+idSize:], h.salt)
	return buf
}

type sealed []byte

func newSealed(nonce, ciphertext []byte) sealed {
	data := make(sealed, len(nonce)+len(ciphertext))
	copy(data[:len(nonce)], nonce)
	copy(data[len(nonce):], ciphertext)
	return data
}

func (data sealed) nonce() []byte {
	if len(data) < nonceSize+1 {
		return []byte{}
	}
	return data[0:nonceSize]
}

func (data sealed) ciphertext() []byte {
	if len(data) < nonceSize+1 {
		return []byte{}
	}
	return data[nonceSize:]
}

// container is the decoded form of a persisted vault resource.
type container struct {
	head header
	data sealed
}

func decodeContainer(b []byte) (*container, error) {
	r := bytes.NewReader(b)
	c := &container{}
	var err error
	if c.head.rev, err = readRevision(r); err != nil {
		return nil, err
	}
	if c.head.rev != CurrentRevision {
		return nil, errors.Errorf("unsupported container revision %d", c.head.rev)
	}
	if c.head.kdf, err = readKDF(r); err != nil {
		return nil, err
	}
	if c.head.id, err = readID(r); err != nil {
		return nil, err
	}
	if c.head.salt, err = readSalt(r); err != nil {
		return nil, err
	}
	if c.data, err = readData(r); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *container) encode() []byte {
	var buf bytes.Buffer
	buf.Grow(headSize + len(c.data))
	buf.Write(c.head.bytes())
	buf.Write(c.data)
	return buf.Bytes()
}

func readRevision(r io.Reader) (uint16, error) {
	buf := make([]byte, revSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, errors.Wrap(err, "revision number is truncated")
	}
	return binary.LittleEndian.Uint16(buf), nil
}

func readKDF(r io.Reader) (KDF, error) {
	buf := make([]byte, kdfSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, errors.Wrap(err, "kdf identifier is truncated")
	}
	kdf := KDF(buf[0])
	if !kdf.valid() {
		return 0, errors.Errorf("unknown kdf identifier %d", buf[0])
	}
	return kdf, nil
}

func readID(r io.Reader) (uuid.UUID, error) {
	var id uuid.UUID
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return uuid.Nil, errors.Wrap(err, "container id is truncated")
	}
	return id, nil
}

func readSalt(r io.Reader) ([]byte, error) {
	buf := make([]byte, saltSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "salt is truncated")
	}
	return buf, nil
}

func readData(r io.Reader) (sealed, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read data")
	}
	if len(data) < nonceSize+1 {
		return nil, errors.New("sealed data is truncated")
	}
	return sealed(data), nil
}
