package vault

import (
	"bytes"
	"encoding/base64"
	"regexp"
	"sort"

	"github.com/pkg/errors"
)

// keyring is the plaintext payload of a container: one entry per keystore.
type keyring struct {
	m map[string][]byte
}

func newKeyring() *keyring {
	return &keyring{m: make(map[string][]byte)}
}

func decodeKeyring(b []byte) (*keyring, error) {
	kr := newKeyring()
	for i := 0; i < len(b); {
		if b[i] != '{' {
			return nil, errors.Errorf("expected '{' for new keystore entry; got '%c'", b[i])
		}

		idx := bytes.IndexByte(b[i:], '}')
		if idx == -1 {
			return nil, errors.New("missing closing '}' for keystore entry")
		}

		tuple := bytes.Split(b[i+1:i+idx], []byte{':'})
		if len(tuple) != 2 {
			return nil, errors.New("malformed keystore entry")
		}
		value, err := base64.StdEncoding.DecodeString(string(tuple[1]))
		if err != nil {
			return nil, errors.New("malformed base64 value in keystore entry")
		}

		if err := kr.store(string(tuple[0]), value); err != nil {
			return nil, errors.Wrap(err, "cannot load keystore entry")
		}

		i += idx + 1
	}
	return kr, nil
}

func (kr *keyring) store(name string, value []byte) error {
	if err := validKeystoreName(name); err != nil {
		return err
	}
	kr.m[name] = value
	return nil
}

func (kr *keyring) load(name string) ([]byte, bool) {
	value, ok := kr.m[name]
	return value, ok
}

func (kr *keyring) delete(name string) {
	delete(kr.m, name)
}

func (kr *keyring) names() []string {
	names := make([]string, 0, len(kr.m))
	for k := range kr.m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (kr *keyring) encode() []byte {
	var buf bytes.Buffer
	for _, k := range kr.names() {
		buf.WriteByte('{')
		buf.WriteString(k)
		buf.WriteByte(':')
		buf.WriteString(base64.StdEncoding.EncodeToString(kr.m[k]))
		buf.WriteByte('}')
	}
	return buf.Bytes()
}

func (kr *keyring) wipe() {
	for _, v := range kr.m {
		wipe(v)
	}
}

var reKeystoreName = regexp.MustCompile("^[a-zA-Z0-9_-]+$")

func validKeystoreName(name string) error {
	if name == "" {
		return errors.New("keystore name is empty")
	}
	if !reKeystoreName.MatchString(name) {
		return errors.Errorf("keystore name %q contains invalid characters", name)
	}
	return nil
}
