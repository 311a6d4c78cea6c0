package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-events/backend/internal/models"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret", 1)
	u := &models.User{ID: uuid.New(), Email: "ana@campus.test", Role: models.RoleStudent, Shift: models.ShiftNight}

	token, err := svc.Generate(u)
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	p := claims.Principal()
	assert.Equal(t, u.ID, p.UserID)
	assert.Equal(t, models.RoleStudent, p.Role)
	assert.Equal(t, models.ShiftNight, p.Shift)
	assert.Equal(t, u.Email, claims.Email)
}

func TestJWTService_Rejects(t *testing.T) {
	svc := NewJWTService("test-secret", 1)
	u := &models.User{ID: uuid.New(), Role: models.RoleAdmin}

	other, err := NewJWTService("other-secret", 1).Generate(u)
	require.NoError(t, err)
	_, err = svc.Validate(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: u.ID,
		Role:   string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = svc.Validate(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: u.ID})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.Validate(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Validate("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("secret123")
	require.NoError(t, err)
	assert.True(t, CheckPassword("secret123", hash))
	assert.False(t, CheckPassword("secret124", hash))

	_, err = HashPassword("short")
	assert.Error(t, err)
	_, err = HashPassword(string(make([]byte, MaxPasswordLength+1)))
	assert.Error(t, err)
}
