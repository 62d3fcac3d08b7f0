package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlabs/matchpoint/internal/v1/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCorrelationID_GeneratesWhenAbsent(t *testing.T) {
	router := gin.New()
	router.Use(CorrelationID())

	var inContext string
	router.GET("/", func(c *gin.Context) {
		inContext = c.GetString(string(logging.CorrelationIDKey))
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	header := w.Header().Get(HeaderXCorrelationID)
	require.NotEmpty(t, header)
	_, err := uuid.Parse(header)
	assert.NoError(t, err)
	assert.Equal(t, header, inContext)
}

func TestCorrelationID_PreservesIncoming(t *testing.T) {
	router := gin.New()
	router.Use(CorrelationID())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderXCorrelationID, "req-42")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get(HeaderXCorrelationID))
}
