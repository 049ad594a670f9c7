package credentials

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	// 32 raw bytes, base64-url encoded with padding.
	c, err := NewCipher("AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8=")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	return c
}

func TestCipherRoundTrip(t *testing.T) {
	c := testCipher(t)
	encrypted, err := c.Encrypt("hunter2-refresh-token")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	decrypted, err := c.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if decrypted != "hunter2-refresh-token" {
		t.Fatalf("expected round trip to recover plaintext, got %q", decrypted)
	}
}

func TestCipherDecryptRejectsTamperedCiphertext(t *testing.T) {
	c := testCipher(t)
	encrypted, err := c.Encrypt("hunter2-refresh-token")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	tampered := "A" + encrypted[1:]
	if _, err := c.Decrypt(tampered); err == nil {
		t.Fatalf("expected a tampered ciphertext to fail authentication")
	}
}

func TestNewCipherRejectsWrongKeyLength(t *testing.T) {
	if _, err := NewCipher("dG9vc2hvcnQ"); err == nil {
		t.Fatalf("expected a short key to be rejected")
	}
}

type fakeStore struct {
	access AccountAccess
	err    error
	saved  struct {
		userID, accessTokenEnc string
		expiresAt              time.Time
	}
}

func (f *fakeStore) GetAccountAccess(ctx context.Context, userID string) (AccountAccess, error) {
	if f.err != nil {
		return AccountAccess{}, f.err
	}
	return f.access, nil
}

func (f *fakeStore) UpdateAccessToken(ctx context.Context, userID string, accessTokenEnc string, expiresAt time.Time) error {
	f.saved.userID = userID
	f.saved.accessTokenEnc = accessTokenEnc
	f.saved.expiresAt = expiresAt
	return nil
}

type fakeRefresher struct {
	accessToken string
	expiresAt   time.Time
	err         error
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (string, time.Time, error) {
	if f.err != nil {
		return "", time.Time{}, f.err
	}
	return f.accessToken, f.expiresAt, nil
}

func TestGetFreshAccessTokenReturnsStoredTokenWhenNotExpired(t *testing.T) {
	cipher := testCipher(t)
	encryptedAccess, err := cipher.Encrypt("still-valid-access-token")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	store := &fakeStore{access: AccountAccess{
		UserID:         "user-1",
		AccessTokenEnc: encryptedAccess,
		ExpiresAt:      time.Now().Add(time.Hour),
	}}
	svc := NewService(store, cipher, &fakeRefresher{err: errors.New("should not be called")})

	token, err := svc.GetFreshAccessToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get fresh access token: %v", err)
	}
	if token != "still-valid-access-token" {
		t.Fatalf("expected stored token, got %q", token)
	}
}

func TestGetFreshAccessTokenRefreshesExpiredToken(t *testing.T) {
	cipher := testCipher(t)
	encryptedRefresh, err := cipher.Encrypt("refresh-me")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	store := &fakeStore{access: AccountAccess{
		UserID:          "user-1",
		RefreshTokenEnc: encryptedRefresh,
		ExpiresAt:       time.Now().Add(-time.Minute),
	}}
	newExpiry := time.Now().Add(time.Hour)
	svc := NewService(store, cipher, &fakeRefresher{accessToken: "brand-new-token", expiresAt: newExpiry})

	token, err := svc.GetFreshAccessToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get fresh access token: %v", err)
	}
	if token != "brand-new-token" {
		t.Fatalf("expected refreshed token, got %q", token)
	}
	if store.saved.userID != "user-1" {
		t.Fatalf("expected the refreshed token to be persisted")
	}
	decrypted, err := cipher.Decrypt(store.saved.accessTokenEnc)
	if err != nil {
		t.Fatalf("decrypt persisted token: %v", err)
	}
	if decrypted != "brand-new-token" {
		t.Fatalf("expected the persisted ciphertext to decrypt to the new token, got %q", decrypted)
	}
}

func TestGetFreshAccessTokenPropagatesStoreError(t *testing.T) {
	store := &fakeStore{err: ErrNoAccess}
	svc := NewService(store, testCipher(t), &fakeRefresher{})

	if _, err := svc.GetFreshAccessToken(context.Background(), "missing-user"); !errors.Is(err, ErrNoAccess) {
		t.Fatalf("expected ErrNoAccess, got %v", err)
	}
}
