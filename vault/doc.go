/*
Package vault provides a password protected secret store. A vault is bound to
a password, the name of a container (the filename) and the name of one
keystore entry inside that container. Several vaults may share a container as
long as they use the same password.


Lifecycle

A vault is created unconfigured by New. Initialize loads the container, or
creates it when missing, and derives the encryption key: the vault is then
ready. Every stream, encrypt and decrypt operation fails with ErrNotReady
before that. Lock wipes the key and makes the vault unconfigured again.


Encryption

The container is encrypted using AES-256 and the GCM (Galois/Counter Mode)
mode. The encryption key is derived from the password using PBKDF2-SHA256
(20000 iterations) or Argon2id. The container header is authenticated as
associated data, so any alteration of it is detected on decryption.

The password is not checked by Initialize unless VerifyPassword is given: a
wrong password is reported by the first read with ErrDecryption.


Binary Format

A container uses the following binary format:

   2 bytes for the revision stored as an unsigned int on 16bits encoded in
   little endian (currently 2)

   1 byte for the key derivation algorithm (1 = PBKDF2, 2 = Argon2id)

   16 bytes for the container UUID

   32 bytes for the salt used by the key derivation algorithm

   All other bytes are used to store the encrypted data. The first 12 bytes
   are the nonce required by the AES-GCM cipher, the last 16 the GCM tag.

Before the encryption, the keystore entries are encoded using the following
format, ordered by name:

   {name:base64(value)}

The name can only contain alphanumeric characters, dashes ("-") and
underscores ("_").


Streams

OutputStream and InputStream are scoped resources. The bytes written to an
output stream are stored, replacing the previous keystore content, only when
Close or Commit returns nil; Abort drops them. Close reaches the backend with
the context the stream was opened with, Commit with the one it is given. An input stream yields the decrypted
plaintext and wipes it on Close. Both must be released on every path.


Limitation

The whole container is decrypted and re-encrypted on every write. It is not
meant for large amounts of data. Writes are serialized per PasswordVault, not
across processes sharing a container.
*/
package vault
