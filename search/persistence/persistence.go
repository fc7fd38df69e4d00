// Package persistence wraps an index snapshot in a named, versioned schema
// and encrypts it in two layers: the snapshot under a per-index symmetric
// key, and that key under the user's keypair.
//
// Errors are returned as is; deciding what to do with an unreadable blob is
// up to the caller.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/noelzubin/notes_vault/search"
	"github.com/noelzubin/notes_vault/secure"
)

var (
	ErrSchemaName    = errors.New("persistence: schema name mismatch")
	ErrSchemaVersion = errors.New("persistence: unsupported schema version")
)

// CurrentVersion is the version written by Encrypt.
const CurrentVersion = "0.2.0"

// acceptedVersions is the range Decrypt is willing to read.
const acceptedVersions = ">=0.1.0, <0.3.0"

// Schema names and versions a persisted snapshot.
type Schema struct {
	Name    string
	Version string
	Accepts string // semver constraint checked on decrypt
}

// SchemaFor returns the schema of the given index kind.
func SchemaFor(kind search.Kind) Schema {
	return Schema{
		Name:    fmt.Sprintf("notes-vault/search-index/%s", kind),
		Version: CurrentVersion,
		Accepts: acceptedVersions,
	}
}

// Snapshot is the decrypted content of a persisted index.
type Snapshot struct {
	SerializedIndex json.RawMessage  `json:"serializedIndex"`
	IndexMetadata   search.Metadata  `json:"indexMetadata,omitempty"`
	IDToUpdatedAt   map[string]int64 `json:"idToUpdatedAt,omitempty"`
}

// Payload is what goes into the local store.
type Payload struct {
	EncryptedKey         string `json:"encryptedKey"`
	EncryptedSearchIndex string `json:"encryptedSearchIndex"`
}

type envelope struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Body    Snapshot `json:"body"`
}

// Marshal encodes a payload for the store.
func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalPayload decodes a stored payload.
func UnmarshalPayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("persistence: decode payload: %w", err)
	}
	if p.EncryptedKey == "" || p.EncryptedSearchIndex == "" {
		return Payload{}, errors.New("persistence: incomplete payload")
	}
	return p, nil
}

// Encrypt seals snapshot under symmetricKey and symmetricKey under keys.
func Encrypt(schema Schema, snapshot Snapshot, symmetricKey string, keys secure.UserKeys) (Payload, error) {
	body, err := json.Marshal(envelope{Name: schema.Name, Version: schema.Version, Body: snapshot})
	if err != nil {
		return Payload{}, fmt.Errorf("persistence: encode snapshot: %w", err)
	}
	encryptedIndex, err := secure.EncryptSymmetric(body, symmetricKey)
	if err != nil {
		return Payload{}, err
	}
	encryptedKey, err := secure.EncryptAsymmetric([]byte(symmetricKey), keys)
	if err != nil {
		return Payload{}, err
	}
	return Payload{EncryptedKey: encryptedKey, EncryptedSearchIndex: encryptedIndex}, nil
}

// Decrypt reverses Encrypt and checks the schema name and version range.
func Decrypt(schema Schema, payload Payload, keys secure.UserKeys) (string, Snapshot, error) {
	rawKey, err := secure.DecryptAsymmetric(payload.EncryptedKey, keys)
	if err != nil {
		return "", Snapshot{}, fmt.Errorf("persistence: unwrap key: %w", err)
	}
	symmetricKey := string(rawKey)

	body, err := secure.DecryptSymmetric(payload.EncryptedSearchIndex, symmetricKey)
	if err != nil {
		return "", Snapshot{}, fmt.Errorf("persistence: decrypt index: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", Snapshot{}, fmt.Errorf("persistence: decode snapshot: %w", err)
	}
	if env.Name != schema.Name {
		return "", Snapshot{}, fmt.Errorf("%w: got %q, want %q", ErrSchemaName, env.Name, schema.Name)
	}
	if err := checkVersion(env.Version, schema.Accepts); err != nil {
		return "", Snapshot{}, err
	}
	return symmetricKey, env.Body, nil
}

func checkVersion(version, accepts string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrSchemaVersion, version, err)
	}
	c, err := semver.NewConstraint(accepts)
	if err != nil {
		return fmt.Errorf("persistence: bad version constraint %q: %w", accepts, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: %s not in %s", ErrSchemaVersion, version, accepts)
	}
	return nil
}
