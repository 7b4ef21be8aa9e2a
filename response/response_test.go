package response

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	WriteError(w, r, ErrBadRequest().AddMessages("Invalid tier"))

	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["error"])
	assert.Equal(t, "Bad request", body["message"])
	assert.Equal(t, []interface{}{"Invalid tier"}, body["messages"])
}

func TestWriteResponse(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	WriteResponse(w, r, map[string]int{"sent": 2})

	assert.Equal(t, 200, w.Code)
	assert.JSONEq(t, `{"error":false,"result":{"sent":2}}`, w.Body.String())
}

func TestErrorBuilders(t *testing.T) {
	e := ErrNoBearer()
	assert.Equal(t, 401, e.StatusCode)
	assert.Equal(t, "HTTP 401: Unauthorized", e.Error())
	assert.Equal(t, 503, ErrServiceUnavailable().StatusCode)
}
