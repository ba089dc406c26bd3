package res

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFail_WritesCodeAndOmitsEmptyFields(t *testing.T) {
	w := httptest.NewRecorder()

	Fail(w, http.StatusConflict, "Member already exists", CodeDuplicate)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, map[string]any{"error": "Member already exists", "error_code": "duplicate"}, body)
}
