// internal/ocr/client_test.go
package ocr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/renew-cli/internal/config"
)

func testClient(endpoint string) *Client {
	return NewClient(config.CaptchaConfig{
		Endpoint:       endpoint,
		RequestTimeout: 2 * time.Second,
		RatePerMinute:  6000,
	}, zap.NewNop())
}

func TestRecognizeSuccess(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = body
		_, _ = w.Write([]byte("  AB12\n"))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	result, err := c.Recognize(context.Background(), []byte("png-bytes"))

	require.NoError(t, err)
	assert.Equal(t, "AB12", result.Code)
	assert.Equal(t, 4, result.Length)
	assert.Equal(t, []byte("png-bytes"), received)
}

func TestRecognizeLengthCountsRunes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("abéd"))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	result, err := c.Recognize(context.Background(), []byte("x"))

	require.NoError(t, err)
	assert.Equal(t, 4, result.Length)
}

func TestRecognizeNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Recognize(context.Background(), []byte("x"))
	assert.Error(t, err)
}

func TestRecognizeEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Recognize(context.Background(), []byte("x"))
	assert.Error(t, err)
}

func TestRecognizeRejectsEmptyImage(t *testing.T) {
	c := testClient("http://127.0.0.1:1")
	_, err := c.Recognize(context.Background(), nil)
	assert.Error(t, err)
}

func TestRecognizeWithoutEndpoint(t *testing.T) {
	c := testClient("")
	_, err := c.Recognize(context.Background(), []byte("x"))
	assert.Error(t, err)
}
