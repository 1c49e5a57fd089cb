package security

import (
	"testing"
	"time"

	"trip-planner/internal/tripplanner/config"
	"trip-planner/internal/tripplanner/domain/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type JWTTestSuite struct {
	suite.Suite
	config  config.GatewayConfig
	service *TokenService
}

func (s *JWTTestSuite) SetupTest() {
	s.config = config.GatewayConfig{
		JWTSecretKey:   "test-secret-key-32-characters-long-12345",
		JWTIssuer:      "test-issuer",
		AccessTokenTTL: 15 * time.Minute,
	}
	service, err := NewTokenService(s.config)
	require.NoError(s.T(), err)
	s.service = service
}

func (s *JWTTestSuite) TestNewTokenService_ValidationErrors() {
	cases := map[string]func(*config.GatewayConfig){
		"jwt secret key cannot be empty":        func(c *config.GatewayConfig) { c.JWTSecretKey = "" },
		"jwt issuer cannot be empty":            func(c *config.GatewayConfig) { c.JWTIssuer = "" },
		"jwt access token TTL must be positive": func(c *config.GatewayConfig) { c.AccessTokenTTL = 0 },
	}
	for msg, modify := range cases {
		cfg := s.config
		modify(&cfg)
		_, err := NewTokenService(cfg)
		s.EqualError(err, msg)
	}
}

func (s *JWTTestSuite) TestGenerateAndValidate() {
	token, err := s.service.GenerateToken("u1", "ann@example.com", model.RoleManager)
	s.Require().NoError(err)

	claims, err := s.service.ValidateToken(token)
	s.Require().NoError(err)
	s.Equal("u1", claims.UID)
	s.Equal(model.RoleManager, claims.UserRole())
	s.Equal("test-issuer", claims.Issuer)
	s.Equal(map[string]interface{}{
		"uid":   "u1",
		"role":  "manager",
		"token": map[string]interface{}{"email": "ann@example.com"},
	}, claims.AsMap())
}

func (s *JWTTestSuite) TestExpiredToken() {
	s.service.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, err := s.service.GenerateToken("u1", "", model.RoleUser)
	s.Require().NoError(err)

	s.service.now = time.Now
	_, err = s.service.ValidateToken(token)
	s.ErrorIs(err, ErrTokenExpired)
}

func (s *JWTTestSuite) TestWrongSecret() {
	other := *s.service
	other.secretKey = []byte("another-secret")
	token, err := other.GenerateToken("u1", "", model.RoleUser)
	s.Require().NoError(err)

	_, err = s.service.ValidateToken(token)
	s.ErrorIs(err, ErrTokenSignatureInvalid)
}

func (s *JWTTestSuite) TestWrongIssuer() {
	other := *s.service
	other.issuer = "someone-else"
	token, err := other.GenerateToken("u1", "", model.RoleUser)
	s.Require().NoError(err)

	_, err = s.service.ValidateToken(token)
	s.ErrorIs(err, ErrTokenInvalid)
}

func (s *JWTTestSuite) TestUnsignedTokenRejected() {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UID: "u1", RegisteredClaims: jwt.RegisteredClaims{Issuer: "test-issuer"}})
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	s.Require().NoError(err)

	_, err = s.service.ValidateToken(raw)
	s.Error(err)
}

func (s *JWTTestSuite) TestMalformed() {
	_, err := s.service.ValidateToken("")
	s.ErrorIs(err, ErrTokenInvalid)
	_, err = s.service.ValidateToken("not.a.jwt")
	s.ErrorIs(err, ErrTokenInvalid)
}

func TestJWTSuite(t *testing.T) {
	suite.Run(t, new(JWTTestSuite))
}

func TestGenerateToken_RequiresUID(t *testing.T) {
	svc, err := NewTokenService(config.DefaultConfig().Gateway)
	require.NoError(t, err)
	_, err = svc.GenerateToken("", "", model.RoleUser)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
