package util

import (
	"staged_exam_backend/internal/model"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func testUser() *model.User {
	user := &model.User{Name: "张三", Email: "zhangsan@example.com", Role: model.Student}
	user.ID = 42
	return user
}

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT(testUser(), testSecret, time.Hour)
	require.NoError(t, err)

	claims, err := ParseJWT(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "张三", claims.Name)
	assert.Equal(t, model.Student, claims.Role)
	assert.Equal(t, tokenIssuer, claims.Issuer)
	assert.Equal(t, "42", claims.Subject)
}

func TestParseJWTRejectsWrongSecret(t *testing.T) {
	token, err := GenerateJWT(testUser(), testSecret, time.Hour)
	require.NoError(t, err)

	_, err = ParseJWT(token, "another-secret")
	assert.Error(t, err)
}

func TestParseJWTRejectsExpired(t *testing.T) {
	token, err := GenerateJWT(testUser(), testSecret, -time.Minute)
	require.NoError(t, err)

	_, err = ParseJWT(token, testSecret)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestParseJWTRejectsForeignIssuer(t *testing.T) {
	// 别的服务用同一密钥签出来的 token 不被接受
	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "another-service",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := foreign.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = ParseJWT(signed, testSecret)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
}

func TestParseJWTRejectsNonHMAC(t *testing.T) {
	// alg=none 一律拒绝
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ParseJWT(token, testSecret)
	assert.Error(t, err)
}
