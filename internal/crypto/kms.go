// Package crypto encrypts the refresh tokens persisted with portal sessions.
package crypto

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Encryptor defines the interface for encryption and decryption.
type Encryptor interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// KMSClient is the subset of *kms.Client methods used by KMSService.
type KMSClient interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSService implements Encryptor using AWS KMS.
type KMSService struct {
	client KMSClient
	keyID  string
}

// NewKMSService creates a new KMSService.
// keyID can be a key ID, key ARN, or alias name (e.g., "alias/eremconecta-session-key").
func NewKMSService(client KMSClient, keyID string) *KMSService {
	return &KMSService{client: client, keyID: keyID}
}

// Encrypt returns the base64 encoded ciphertext of plaintext.
func (s *KMSService) Encrypt(ctx context.Context, plaintext string) (string, error) {
	result, err := s.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(s.keyID),
		Plaintext: []byte(plaintext),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encrypt data: %w", err)
	}
	return base64.StdEncoding.EncodeToString(result.CiphertextBlob), nil
}

// Decrypt decrypts the base64 encoded ciphertext using KMS.
func (s *KMSService) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	result, err := s.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: decoded,
		KeyId:          aws.String(s.keyID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to decrypt data: %w", err)
	}
	return string(result.Plaintext), nil
}

const plainPrefix = "plain:"

// PlainEncryptor tags values instead of encrypting them. Dev mode only.
type PlainEncryptor struct{}

func NewPlainEncryptor() *PlainEncryptor {
	return &PlainEncryptor{}
}

func (PlainEncryptor) Encrypt(_ context.Context, plaintext string) (string, error) {
	return plainPrefix + plaintext, nil
}

func (PlainEncryptor) Decrypt(_ context.Context, ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, plainPrefix) {
		return "", fmt.Errorf("value was not written by PlainEncryptor")
	}
	return strings.TrimPrefix(ciphertext, plainPrefix), nil
}
