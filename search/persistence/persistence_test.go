package persistence

import (
	"encoding/json"
	"testing"

	"github.com/noelzubin/notes_vault/search"
	"github.com/noelzubin/notes_vault/secure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKeys(t *testing.T) (string, secure.UserKeys) {
	t.Helper()
	symmetric, err := secure.GenerateSymmetricKey()
	require.NoError(t, err)
	keys, err := secure.GenerateUserKeys()
	require.NoError(t, err)
	return symmetric, keys
}

func TestEncryptDecrypt(t *testing.T) {
	symmetric, keys := newKeys(t)
	schema := SchemaFor(search.KindMail)
	snapshot := Snapshot{
		SerializedIndex: json.RawMessage(`{"documents":{}}`),
		IndexMetadata:   search.Metadata{"oldest": float64(3)},
		IDToUpdatedAt:   map[string]int64{"a": 1},
	}

	payload, err := Encrypt(schema, snapshot, symmetric, keys)
	require.NoError(t, err)

	data, err := payload.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"encryptedKey"`)
	assert.Contains(t, string(data), `"encryptedSearchIndex"`)
	assert.NotContains(t, string(data), "documents")

	decoded, err := UnmarshalPayload(data)
	require.NoError(t, err)

	gotKey, got, err := Decrypt(schema, decoded, keys)
	require.NoError(t, err)
	assert.Equal(t, symmetric, gotKey)
	assert.JSONEq(t, `{"documents":{}}`, string(got.SerializedIndex))
	assert.Equal(t, snapshot.IndexMetadata, got.IndexMetadata)
	assert.Equal(t, snapshot.IDToUpdatedAt, got.IDToUpdatedAt)
}

func TestDecryptRejectsOtherKind(t *testing.T) {
	symmetric, keys := newKeys(t)
	payload, err := Encrypt(SchemaFor(search.KindMail), Snapshot{SerializedIndex: json.RawMessage(`{}`)}, symmetric, keys)
	require.NoError(t, err)

	_, _, err = Decrypt(SchemaFor(search.KindDocument), payload, keys)
	assert.ErrorIs(t, err, ErrSchemaName)
}

func TestDecryptRejectsIncompatibleVersion(t *testing.T) {
	symmetric, keys := newKeys(t)
	future := SchemaFor(search.KindDocument)
	future.Version = "1.0.0"
	payload, err := Encrypt(future, Snapshot{SerializedIndex: json.RawMessage(`{}`)}, symmetric, keys)
	require.NoError(t, err)

	_, _, err = Decrypt(SchemaFor(search.KindDocument), payload, keys)
	assert.ErrorIs(t, err, ErrSchemaVersion)
}

func TestDecryptWithWrongKeys(t *testing.T) {
	symmetric, keys := newKeys(t)
	_, stranger := newKeys(t)
	payload, err := Encrypt(SchemaFor(search.KindDocument), Snapshot{SerializedIndex: json.RawMessage(`{}`)}, symmetric, keys)
	require.NoError(t, err)

	_, _, err = Decrypt(SchemaFor(search.KindDocument), payload, stranger)
	assert.ErrorIs(t, err, secure.ErrDecryptionFailed)
}

func TestUnmarshalPayloadRejectsGarbage(t *testing.T) {
	_, err := UnmarshalPayload([]byte("not json"))
	assert.Error(t, err)
	_, err = UnmarshalPayload([]byte(`{"encryptedKey":""}`))
	assert.Error(t, err)
}
