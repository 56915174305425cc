package encryption

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/confhub/internal/model"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

var tokenRE = regexp.MustCompile(`^[A-Za-z0-9+/=]+:[A-Za-z0-9+/=]+:[A-Za-z0-9+/=]*$`)

func newService(t *testing.T) *Service {
	t.Helper()
	s, err := New(testKey)
	require.NoError(t, err)
	require.True(t, s.IsAvailable())
	return s
}

func TestNew_KeyValidation(t *testing.T) {
	s, err := New("")
	require.NoError(t, err)
	assert.False(t, s.IsAvailable())

	_, err = New("not-hex")
	assert.Error(t, err)

	_, err = New("abcd")
	assert.Error(t, err, "short keys are rejected")
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	s := newService(t)
	for _, plaintext := range []string{"secret-value", `{"password":"p@ss"}`, "", strings.Repeat("x", 4096)} {
		token, err := s.Encrypt(plaintext)
		require.NoError(t, err)
		assert.Regexp(t, tokenRE, token)

		got, err := s.Decrypt(token)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	s := newService(t)
	a, err := s.Encrypt("same")
	require.NoError(t, err)
	b, err := s.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, strings.Split(a, ":")[0], strings.Split(b, ":")[0])
}

func TestDecrypt_AnySingleCharacterMutationFails(t *testing.T) {
	s := newService(t)
	token, err := s.Encrypt("secret-value")
	require.NoError(t, err)

	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/=:"
	for i := range len(token) {
		for _, c := range []byte(alphabet) {
			if token[i] == c {
				continue
			}
			mutated := token[:i] + string(c) + token[i+1:]
			_, err := s.Decrypt(mutated)
			if !errors.Is(err, model.ErrDecryptionFailed) {
				t.Fatalf("mutation at %d to %q: err = %v, want ErrDecryptionFailed", i, c, err)
			}
		}
	}
}

func TestDecrypt_Malformed(t *testing.T) {
	s := newService(t)
	for _, token := range []string{"", "abc", "a:b", "a:b:c:d", "!!:??:**", "AAAA:AAAA:AAAA"} {
		_, err := s.Decrypt(token)
		assert.ErrorIs(t, err, model.ErrDecryptionFailed, "token %q", token)
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	token, err := newService(t).Encrypt("secret-value")
	require.NoError(t, err)

	other, err := New(strings.Repeat("ab", KeySize))
	require.NoError(t, err)
	_, err = other.Decrypt(token)
	assert.ErrorIs(t, err, model.ErrDecryptionFailed)
}

func TestUnavailable_IsDistinctFromDecryptionFailure(t *testing.T) {
	s, err := New("")
	require.NoError(t, err)

	_, err = s.Encrypt("x")
	assert.ErrorIs(t, err, model.ErrEncryptionUnavailable)

	_, err = s.Decrypt("a:b:c")
	assert.ErrorIs(t, err, model.ErrEncryptionUnavailable)
	assert.NotErrorIs(t, err, model.ErrDecryptionFailed)

	var nilSvc *Service
	assert.ErrorIs(t, nilSvc.EnsureAvailable(), model.ErrEncryptionUnavailable)
}

func TestGenerateKey(t *testing.T) {
	k, err := GenerateKey()
	require.NoError(t, err)
	assert.Len(t, k, KeySize*2)
	s, err := New(k)
	require.NoError(t, err)
	assert.True(t, s.IsAvailable())
}

func TestLooksEncrypted(t *testing.T) {
	token, err := newService(t).Encrypt("v")
	require.NoError(t, err)
	assert.True(t, LooksEncrypted(token))
	assert.False(t, LooksEncrypted("plain"))
}
