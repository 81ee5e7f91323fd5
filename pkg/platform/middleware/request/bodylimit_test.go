package request

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBodyLimit(t *testing.T) {
	read := func(limit int64, body string) (int, error) {
		var n int
		var readErr error
		handler := BodyLimit(limit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, err := io.ReadAll(r.Body)
			n, readErr = len(b), err
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
		return n, readErr
	}

	t.Run("under limit", func(t *testing.T) {
		n, err := read(64, `{"identifier":"a"}`)
		assert.NoError(t, err)
		assert.Equal(t, 18, n)
	})

	t.Run("exact limit", func(t *testing.T) {
		_, err := read(10, strings.Repeat("x", 10))
		assert.NoError(t, err)
	})

	t.Run("over limit fails the read", func(t *testing.T) {
		_, err := read(10, strings.Repeat("x", 11))
		var maxErr *http.MaxBytesError
		assert.ErrorAs(t, err, &maxErr)
	})
}
