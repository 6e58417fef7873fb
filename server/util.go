package server

import (
	"encoding/json"
	"net/http"
)

// SendResponse writes a ResponseModel with the given status. A non-empty
// errorMsg marks the response as failed.
func SendResponse(w http.ResponseWriter, statusCode int, data any, errorMsg string) {
	response := ResponseModel{
		Success: errorMsg == "",
		Data:    data,
		Error:   errorMsg,
	}
	body, err := json.Marshal(response)
	if err != nil {
		http.Error(w, `{"success":false,"error":"Internal Server Error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(append(body, '\n'))
}

func SendError(w http.ResponseWriter, statusCode int, err error) {
	SendResponse(w, statusCode, nil, err.Error())
}
