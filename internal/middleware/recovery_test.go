package middleware_test

import (
	"bytes"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"todo-task/backend/internal/middleware"

	"github.com/gin-gonic/gin"
)

func setupRecoveryRouter(buf *bytes.Buffer) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(middleware.RecoveryWithLog(log.New(buf, "", 0)))
	site := router.Group("/", middleware.ClientIDMiddleware(false))
	site.GET("/home", func(c *gin.Context) {
		c.String(http.StatusOK, "inbox of %s", middleware.ClientID(c))
	})
	site.POST("/tasks/:id/toggle", func(c *gin.Context) {
		var tasks map[string]bool
		tasks[c.Param("id")] = true
		c.Status(http.StatusSeeOther)
	})
	return router
}

func TestRecoveryWithLog_PassesThrough(t *testing.T) {
	var buf bytes.Buffer
	router := setupRecoveryRouter(&buf)

	req, _ := http.NewRequest("GET", "/home", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !strings.HasPrefix(w.Body.String(), "inbox of ") {
		t.Errorf("Unexpected body %q", w.Body.String())
	}
	if buf.Len() != 0 {
		t.Errorf("Expected nothing logged, got %q", buf.String())
	}
}

func TestRecoveryWithLog_PanicInSiteRoute(t *testing.T) {
	var buf bytes.Buffer
	router := setupRecoveryRouter(&buf)

	req, _ := http.NewRequest("POST", "/tasks/abc/toggle", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}

	expectedError := `{"error":"internal server error"}`
	if w.Body.String() != expectedError {
		t.Errorf("Expected error message %s, got %s", expectedError, w.Body.String())
	}

	// the client cookie issued before the panic still reaches the browser
	if !strings.Contains(w.Header().Get("Set-Cookie"), middleware.ClientCookie+"=") {
		t.Errorf("Expected client cookie, got headers %v", w.Header())
	}

	logged := buf.String()
	if !strings.Contains(logged, "[recovery] panic on POST /tasks/abc/toggle: assignment to entry in nil map") {
		t.Errorf("Expected method, path and cause in log, got %q", logged)
	}
}
