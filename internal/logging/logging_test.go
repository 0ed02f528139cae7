package logging

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/starapp/chat-server/internal/config"
)

func TestInitReplacesGlobal(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	lg, err := Init(config.LogConfig{
		Level:    "debug",
		Mode:     "prod",
		FileName: filepath.Join(t.TempDir(), "chat.log"),
		MaxSize:  1,
	})
	require.NoError(t, err)
	assert.Same(t, lg, zap.L())
	assert.True(t, lg.Core().Enabled(zap.DebugLevel))
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	_, err := Init(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestGinRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinLogger(), GinRecovery(false))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestIsBrokenPipe(t *testing.T) {
	assert.True(t, IsBrokenPipe(errors.New("write: broken pipe")))
	assert.True(t, IsBrokenPipe(errors.New("read: Connection reset by peer")))
	assert.False(t, IsBrokenPipe(errors.New("timeout")))
	assert.False(t, IsBrokenPipe(nil))
}
