package web

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/sweeney/kite-pilot/internal/command"
)

// CommandResult is the JSON response of the command API.
type CommandResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Mode  string `json:"mode,omitempty"`
}

func writeResult(w http.ResponseWriter, code int, err error, mode string) {
	res := CommandResult{OK: err == nil, Mode: mode}
	if err != nil {
		res.Error = err.Error()
	}
	data, _ := json.Marshal(res)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func decodeJSONCommand(r io.Reader) (command.Command, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return command.Command{}, err
	}
	return command.Parse(data)
}
