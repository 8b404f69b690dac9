package crypto

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reverseKMS "encrypts" by reversing bytes and remembers the key it was asked for.
type reverseKMS struct {
	keyIDs []string
	fail   bool
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

func (f *reverseKMS) Encrypt(_ context.Context, in *kms.EncryptInput, _ ...func(*kms.Options)) (*kms.EncryptOutput, error) {
	if f.fail {
		return nil, errors.New("kms unavailable")
	}
	f.keyIDs = append(f.keyIDs, aws.ToString(in.KeyId))
	return &kms.EncryptOutput{CiphertextBlob: reverse(in.Plaintext)}, nil
}

func (f *reverseKMS) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	if f.fail {
		return nil, errors.New("kms unavailable")
	}
	f.keyIDs = append(f.keyIDs, aws.ToString(in.KeyId))
	return &kms.DecryptOutput{Plaintext: reverse(in.CiphertextBlob)}, nil
}

func TestKMSService_RoundTrip(t *testing.T) {
	client := &reverseKMS{}
	s := NewKMSService(client, "alias/test")
	ctx := context.Background()

	ct, err := s.Encrypt(ctx, "refresh-token")
	require.NoError(t, err)
	assert.NotEqual(t, "refresh-token", ct)

	pt, err := s.Decrypt(ctx, ct)
	require.NoError(t, err)
	assert.Equal(t, "refresh-token", pt)
	assert.Equal(t, []string{"alias/test", "alias/test"}, client.keyIDs)
}

func TestKMSService_Errors(t *testing.T) {
	s := NewKMSService(&reverseKMS{fail: true}, "alias/test")
	ctx := context.Background()

	_, err := s.Encrypt(ctx, "x")
	assert.Error(t, err)

	_, err = s.Decrypt(ctx, "!!not-base64!!")
	assert.ErrorContains(t, err, "decode")
}

func TestPlainEncryptor(t *testing.T) {
	e := NewPlainEncryptor()
	ctx := context.Background()

	ct, err := e.Encrypt(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix([]byte(ct), []byte("plain:")))

	pt, err := e.Decrypt(ctx, ct)
	require.NoError(t, err)
	assert.Equal(t, "abc", pt)

	_, err = e.Decrypt(ctx, "abc")
	assert.Error(t, err)
}
