package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/oauth2"

	"github.com/eremconecta/portal/internal/crypto"
)

// ErrSessionNotFound is returned by SessionStore.Load when nothing is stored under the key.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists the session between runs of the portal.
type SessionStore interface {
	Load(ctx context.Context, key string) (*oauth2.Token, error)
	Save(ctx context.Context, key, userID string, token *oauth2.Token) error
	Delete(ctx context.Context, key string) error
}

// StoredSession is the persisted form of a session. The refresh token is encrypted.
type StoredSession struct {
	SessionKey            string    `dynamodbav:"session_key"`
	UserID                string    `dynamodbav:"user_id"`
	AccessToken           string    `dynamodbav:"access_token"`
	EncryptedRefreshToken string    `dynamodbav:"encrypted_refresh_token"`
	ExpiresAt             time.Time `dynamodbav:"expires_at"`
	UpdatedAt             time.Time `dynamodbav:"updated_at"`
}

// DynamoDBAPI is the subset of *dynamodb.Client methods used by DynamoStore.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore keeps sessions in a DynamoDB table keyed by session_key.
type DynamoStore struct {
	dynamoClient DynamoDBAPI
	tableName    string
	encryptor    crypto.Encryptor

	// In-memory fallback
	sessions map[string]StoredSession
	mu       sync.RWMutex
}

// NewDynamoStore creates a DynamoStore. A nil client keeps sessions in memory.
func NewDynamoStore(client DynamoDBAPI, tableName string, encryptor crypto.Encryptor) *DynamoStore {
	return &DynamoStore{
		dynamoClient: client,
		tableName:    tableName,
		encryptor:    encryptor,
		sessions:     make(map[string]StoredSession),
	}
}

// Save encrypts the refresh token and stores the session under key.
func (s *DynamoStore) Save(ctx context.Context, key, userID string, token *oauth2.Token) error {
	if token == nil || token.RefreshToken == "" {
		return fmt.Errorf("no refresh token in session")
	}

	encrypted, err := s.encryptor.Encrypt(ctx, token.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	stored := StoredSession{
		SessionKey:            key,
		UserID:                userID,
		AccessToken:           token.AccessToken,
		EncryptedRefreshToken: encrypted,
		ExpiresAt:             token.Expiry.UTC(),
		UpdatedAt:             time.Now().UTC(),
	}

	if s.dynamoClient == nil {
		s.mu.Lock()
		s.sessions[key] = stored
		s.mu.Unlock()
		return nil
	}

	item, err := attributevalue.MarshalMap(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = s.dynamoClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save session to DynamoDB: %w", err)
	}
	return nil
}

// Load returns the stored token for key with its refresh token decrypted.
func (s *DynamoStore) Load(ctx context.Context, key string) (*oauth2.Token, error) {
	var stored StoredSession

	if s.dynamoClient == nil {
		s.mu.RLock()
		v, ok := s.sessions[key]
		s.mu.RUnlock()
		if !ok {
			return nil, ErrSessionNotFound
		}
		stored = v
	} else {
		out, err := s.dynamoClient.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"session_key": &types.AttributeValueMemberS{Value: key},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get session from DynamoDB: %w", err)
		}
		if out.Item == nil {
			return nil, ErrSessionNotFound
		}
		if err := attributevalue.UnmarshalMap(out.Item, &stored); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session: %w", err)
		}
	}

	refreshToken, err := s.encryptor.Decrypt(ctx, stored.EncryptedRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	return &oauth2.Token{
		AccessToken:  stored.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: refreshToken,
		Expiry:       stored.ExpiresAt,
	}, nil
}

// Delete removes the session stored under key. Deleting a missing key is not an error.
func (s *DynamoStore) Delete(ctx context.Context, key string) error {
	if s.dynamoClient == nil {
		s.mu.Lock()
		delete(s.sessions, key)
		s.mu.Unlock()
		return nil
	}

	_, err := s.dynamoClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"session_key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete session from DynamoDB: %w", err)
	}
	return nil
}
