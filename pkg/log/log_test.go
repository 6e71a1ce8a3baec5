package log

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "warn", ServiceName: "chatting"}, &buf)

	l.Info().Msg("hidden")
	l.Warn().Msg("shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["message"])
	assert.Equal(t, "chatting", lines[0][FieldService])
}

func TestWithConn(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewWithWriter(Config{}, &buf))
	ctx = WithConn(ctx, "c-1", "u-1")

	l := Ctx(ctx)
	l.Info().Msg("hello")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "c-1", lines[0][FieldConnID])
	assert.Equal(t, "u-1", lines[0][FieldUserID])
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer

	r := gin.New()
	r.Use(GinMiddleware(NewWithWriter(Config{}, &buf), "/health"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) {
		c.Set(FieldUserID, "u-1")
		c.Status(http.StatusInternalServerError)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, w.Header().Get(headerRequestID))
	assert.Zero(t, buf.Len(), "health checks are not logged")

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(headerRequestID, "req-42")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get(headerRequestID))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "error", lines[0]["level"])
	assert.Equal(t, "req-42", lines[0][FieldRequestID])
	assert.Equal(t, "u-1", lines[0][FieldUserID])
	assert.EqualValues(t, http.StatusInternalServerError, lines[0][FieldStatus])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", parseLevel("DEBUG").String())
	assert.Equal(t, "info", parseLevel("bogus").String())
	assert.Equal(t, "disabled", parseLevel("off").String())
}
