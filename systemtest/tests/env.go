package tests

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"

	"github.com/EternisAI/silo-relay/internal/pairing"
	"github.com/EternisAI/silo-relay/internal/registry"
	"github.com/gin-gonic/gin"
)

// Env is a running relay: the gin router for in-process requests plus a live
// listener for WebSocket clients.
type Env struct {
	Router    *gin.Engine
	Registry  *registry.Registry
	Directory *pairing.Directory
	BaseURL   string
	WSURL     string
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	return doAuthJSON(router, method, path, "", body)
}

func doAuthJSON(router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var b []byte
	if body != nil {
		b, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}
