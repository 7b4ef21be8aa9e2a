package response

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Error    bool        `json:"error"`
	Message  string      `json:"message"`
	Messages []string    `json:"messages"`
	Result   interface{} `json:"result"`
}

type resultBody struct {
	Error  bool        `json:"error"`
	Result interface{} `json:"result"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes e as a JSON body with its status code
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	writeJSON(w, e.StatusCode, errorBody{
		Error:    true,
		Message:  e.Message,
		Messages: e.Messages,
		Result:   e.Result,
	})
}

// WriteResponse writes result as a 200 JSON body
func WriteResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	writeJSON(w, http.StatusOK, resultBody{
		Result: result,
	})
}
