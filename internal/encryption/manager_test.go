package encryption

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"attendance-service/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockKeyService struct {
	mock.Mock
}

func (m *MockKeyService) GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, _ ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*kms.GenerateDataKeyOutput), args.Error(1)
}

func (m *MockKeyService) Decrypt(ctx context.Context, params *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*kms.DecryptOutput), args.Error(1)
}

func localConfig(t *testing.T) *config.Config {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return &config.Config{KMS: config.KMSConfig{LocalKey: base64.StdEncoding.EncodeToString(key)}}
}

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(localConfig(t), nil)
	require.NoError(t, err)

	sealed, err := m.Seal(ctx, "+91 98765 43210", "phone")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "98765")

	// force the unwrap path
	m.ClearCache()
	plain, err := m.Open(ctx, sealed)
	require.NoError(t, err)
	assert.Equal(t, "+91 98765 43210", plain)
}

func TestEmptyValues(t *testing.T) {
	m, err := NewManager(localConfig(t), nil)
	require.NoError(t, err)

	sealed, err := m.Seal(context.Background(), "", "phone")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	plain, err := m.Open(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestDifferentLocalKeyCannotOpen(t *testing.T) {
	ctx := context.Background()
	a, err := NewManager(localConfig(t), nil)
	require.NoError(t, err)
	b, err := NewManager(localConfig(t), nil)
	require.NoError(t, err)

	sealed, err := a.Seal(ctx, "secret", "phone")
	require.NoError(t, err)
	_, err = b.Open(ctx, sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestInvalidLocalKey(t *testing.T) {
	_, err := NewManager(&config.Config{KMS: config.KMSConfig{LocalKey: "c2hvcnQ="}}, nil)
	assert.Error(t, err)
}

func TestKMSRoundTrip(t *testing.T) {
	ctx := context.Background()
	dek := make([]byte, 32)
	_, err := rand.Read(dek)
	require.NoError(t, err)

	keys := new(MockKeyService)
	keys.On("GenerateDataKey", ctx, mock.MatchedBy(func(in *kms.GenerateDataKeyInput) bool {
		return aws.ToString(in.KeyId) == "alias/attendance" && in.EncryptionContext["purpose"] == "phone"
	})).Return(&kms.GenerateDataKeyOutput{
		Plaintext:      dek,
		CiphertextBlob: []byte("wrapped-dek"),
		KeyId:          aws.String("arn:aws:kms:key/1"),
	}, nil).Once()
	keys.On("Decrypt", ctx, mock.MatchedBy(func(in *kms.DecryptInput) bool {
		return string(in.CiphertextBlob) == "wrapped-dek"
	})).Return(&kms.DecryptOutput{Plaintext: dek}, nil).Once()

	cfg := &config.Config{KMS: config.KMSConfig{Enabled: true, KeyID: "alias/attendance"}}
	m, err := NewManager(cfg, keys)
	require.NoError(t, err)

	sealed, err := m.Seal(ctx, "555-0100", "phone")
	require.NoError(t, err)
	m.ClearCache()

	plain, err := m.Open(ctx, sealed)
	require.NoError(t, err)
	assert.Equal(t, "555-0100", plain)
	keys.AssertExpectations(t)
}

func TestKMSEnabledRequiresClient(t *testing.T) {
	_, err := NewManager(&config.Config{KMS: config.KMSConfig{Enabled: true, KeyID: "k"}}, nil)
	assert.Error(t, err)
}
