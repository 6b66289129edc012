package auth

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/oauth2"

	"github.com/sheetledger/sheetledger/internal/apperrors"
	"github.com/sheetledger/sheetledger/internal/core/ports"
)

// MemoryTokenStore keeps tokens in memory. Used for tests and ephemeral
// sessions.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*oauth2.Token
}

var _ ports.TokenStore = (*MemoryTokenStore)(nil)

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]*oauth2.Token)}
}

func (s *MemoryTokenStore) Load(_ context.Context, userID string) (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[userID]
	if !ok {
		return nil, nil
	}
	copied := *token
	return &copied, nil
}

func (s *MemoryTokenStore) Save(_ context.Context, userID string, token *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *token
	s.tokens[userID] = &copied
	return nil
}

const (
	tokenKeyIterations = 4096
	tokenKeySize       = 32
	tokenNonceSize     = 12
)

// keySalt is fixed; uniqueness of ciphertexts comes from the per-write
// random nonce.
var keySalt = []byte("sheetledger.tokenstore.v1")

// FileTokenStore persists tokens to a single file as AES-256-GCM
// encrypted JSON, with the key derived from a passphrase. The file layout
// is base64(nonce || ciphertext).
type FileTokenStore struct {
	path string
	key  []byte

	mu     sync.Mutex
	tokens map[string]*oauth2.Token
}

var _ ports.TokenStore = (*FileTokenStore)(nil)

// NewFileTokenStore opens or creates a token file at path. An existing
// file that cannot be decrypted with the given passphrase is treated as
// an auth error rather than silently discarded.
func NewFileTokenStore(path, passphrase string) (*FileTokenStore, error) {
	s := &FileTokenStore{
		path:   path,
		key:    pbkdf2.Key([]byte(passphrase), keySalt, tokenKeyIterations, tokenKeySize, sha256.New),
		tokens: make(map[string]*oauth2.Token),
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read token file: %v", apperrors.ErrAuth, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	plain, err := s.decrypt(data)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(plain, &s.tokens); err != nil {
		return nil, fmt.Errorf("%w: decode token file: %v", apperrors.ErrAuth, err)
	}
	return s, nil
}

func (s *FileTokenStore) Load(_ context.Context, userID string) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[userID]
	if !ok {
		return nil, nil
	}
	copied := *token
	return &copied, nil
}

func (s *FileTokenStore) Save(_ context.Context, userID string, token *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *token
	s.tokens[userID] = &copied
	return s.persistLocked()
}

func (s *FileTokenStore) persistLocked() error {
	plain, err := json.Marshal(s.tokens)
	if err != nil {
		return fmt.Errorf("%w: encode tokens: %v", apperrors.ErrAuth, err)
	}
	encrypted, err := s.encrypt(plain)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, encrypted, 0o600); err != nil {
		return fmt.Errorf("%w: write token file: %v", apperrors.ErrAuth, err)
	}
	return nil
}

func (s *FileTokenStore) encrypt(plain []byte) ([]byte, error) {
	aead, err := s.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, tokenNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", apperrors.ErrAuth, err)
	}
	sealed := aead.Seal(nonce, nonce, plain, nil)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(out, sealed)
	return out, nil
}

func (s *FileTokenStore) decrypt(data []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode token file: %v", apperrors.ErrAuth, err)
	}
	if len(raw) < tokenNonceSize {
		return nil, fmt.Errorf("%w: token file too short", apperrors.ErrAuth)
	}
	aead, err := s.aead()
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, raw[:tokenNonceSize], raw[tokenNonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt token file: %v", apperrors.ErrAuth, err)
	}
	return plain, nil
}

func (s *FileTokenStore) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: cipher: %v", apperrors.ErrAuth, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: gcm: %v", apperrors.ErrAuth, err)
	}
	return aead, nil
}
