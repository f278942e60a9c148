package tests

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/EternisAI/silo-relay/internal/api/http/dto"
	"github.com/EternisAI/silo-relay/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck(t *testing.T, router *gin.Engine) {
	rr := doJSON(router, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestLogin(t *testing.T, router *gin.Engine, jwtSecret string) {
	t.Run("success by email", func(t *testing.T) {
		body := dto.LoginRequest{Email: "alice@example.com", Password: "password123"}
		rr := doJSON(router, "POST", "/api/auth/login", body)

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp dto.LoginResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Token)

		claims, err := auth.ValidateToken(jwtSecret, resp.Token)
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", claims.Email)
	})

	t.Run("success by username", func(t *testing.T) {
		body := dto.LoginRequest{Username: "bob", Password: "hunter2"}
		rr := doJSON(router, "POST", "/api/auth/login", body)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("wrong password", func(t *testing.T) {
		body := dto.LoginRequest{Email: "alice@example.com", Password: "wrongpassword"}
		rr := doJSON(router, "POST", "/api/auth/login", body)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("nonexistent user", func(t *testing.T) {
		body := dto.LoginRequest{Email: "nouser@example.com", Password: "password123"}
		rr := doJSON(router, "POST", "/api/auth/login", body)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func login(t *testing.T, router *gin.Engine, email, password string) string {
	t.Helper()
	rr := doJSON(router, "POST", "/api/auth/login", dto.LoginRequest{Email: email, Password: password})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp dto.LoginResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Token
}
