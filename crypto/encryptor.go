package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"example.com/backstage/budget/domain"
)

const (
	ivSize  = 12
	tagSize = 16
)

var ErrDecryptionFailure = errors.New("crypto: decryption failure")

// Envelope is the stored form of an encrypted field.
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"authTag"`
}

// FieldEncryptor encrypts and decrypts the personal data fields of events
// with AES-256-GCM, using one key per subject.
type FieldEncryptor struct {
	keys *KeyCache
}

// NewFieldEncryptor creates a field encryptor resolving keys through the cache
func NewFieldEncryptor(keys *KeyCache) *FieldEncryptor {
	return &FieldEncryptor{keys: keys}
}

// Encrypt replaces every non-empty personal field of the event with its
// serialized envelope. Events without personal data are returned unchanged.
func (f *FieldEncryptor) Encrypt(ctx context.Context, event domain.Event, subjectID uuid.UUID) (domain.Event, error) {
	pd, ok := event.(domain.PersonalData)
	if !ok {
		return event, nil
	}

	firstWrite := false
	if issuer, ok := event.(domain.SubjectKeyIssuer); ok {
		firstWrite = issuer.IssuesSubjectKey()
	}

	key, err := f.keys.GetOrCreate(ctx, subjectID, firstWrite)
	if err != nil {
		return nil, err
	}

	for name, field := range pd.PersonalFields() {
		if field == nil || *field == "" {
			continue
		}

		sealed, err := seal(key, *field)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt field %s: %w", name, err)
		}
		*field = sealed
	}

	return event, nil
}

// Decrypt restores the plaintext of every non-empty personal field of the event.
// A missing subject key fails with both ErrDecryptionFailure and ErrKeyNotFound.
func (f *FieldEncryptor) Decrypt(ctx context.Context, event domain.Event, subjectID uuid.UUID) (domain.Event, error) {
	pd, ok := event.(domain.PersonalData)
	if !ok {
		return event, nil
	}

	key, err := f.keys.GetOrCreate(ctx, subjectID, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailure, err)
	}

	for name, field := range pd.PersonalFields() {
		if field == nil || *field == "" {
			continue
		}

		plain, err := open(key, *field)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: %w", ErrDecryptionFailure, name, err)
		}
		*field = plain
	}

	return event, nil
}

func seal(key []byte, plaintext string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to read iv: %w", err)
	}

	out := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext, tag := out[:len(out)-tagSize], out[len(out)-tagSize:]

	b, err := json.Marshal(Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(iv),
		AuthTag:    base64.StdEncoding.EncodeToString(tag),
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func open(key []byte, sealed string) (string, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(sealed), &env); err != nil {
		return "", fmt.Errorf("malformed envelope: %w", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("malformed ciphertext: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(iv) != ivSize {
		return "", errors.New("malformed iv")
	}
	tag, err := base64.StdEncoding.DecodeString(env.AuthTag)
	if err != nil || len(tag) != tagSize {
		return "", errors.New("malformed auth tag")
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	plain, err := gcm.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithTagSize(block, tagSize)
}
