package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"
)

type ActorSuite struct {
	suite.Suite
}

func TestActorSuite(t *testing.T) {
	suite.Run(t, new(ActorSuite))
}

func (s *ActorSuite) token(claims jwt.MapClaims) string {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("unchecked"))
	s.Require().NoError(err)
	return raw
}

// serve runs a request through the Actor middleware and returns what GetActor
// saw inside the handler.
func (s *ActorSuite) serve(authorization string) string {
	var actor string
	handler := Actor(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		actor = GetActor(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/locations", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return actor
}

func (s *ActorSuite) TestUserNameClaim() {
	raw := s.token(jwt.MapClaims{"user_name": "ITAG_USER", "sub": "subject"})
	s.Equal("ITAG_USER", s.serve("Bearer "+raw))
}

func (s *ActorSuite) TestSubjectFallback() {
	raw := s.token(jwt.MapClaims{"sub": "SERVICE_ACCOUNT"})
	s.Equal("SERVICE_ACCOUNT", s.serve("Bearer "+raw))
}

func (s *ActorSuite) TestSystemActorFallbacks() {
	s.Run("no header", func() {
		s.Equal(SystemActor, s.serve(""))
	})
	s.Run("not a bearer scheme", func() {
		s.Equal(SystemActor, s.serve("Basic dXNlcjpwYXNz"))
	})
	s.Run("garbage token", func() {
		s.Equal(SystemActor, s.serve("Bearer not.a.token"))
	})
	s.Run("no usable claim", func() {
		raw := s.token(jwt.MapClaims{"scope": "read"})
		s.Equal(SystemActor, s.serve("Bearer "+raw))
	})
}

func (s *ActorSuite) TestGetActorWithoutMiddleware() {
	s.Equal(SystemActor, GetActor(context.Background()))
}
