package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sjudeng/planet-api-workshop/service/log"
)

// HTTPError is an error carrying the http status it must be reported with
type HTTPError interface {
	error
	StatusCode() int
}

// WriteJSON encodes v into the response body
func WriteJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// WriteError reports the error to the client, mapping HTTPError to its status code
// Other errors are logged and reported as an internal error
func WriteError(w http.ResponseWriter, req *http.Request, err error) {
	var herr HTTPError
	if errors.As(err, &herr) {
		w.WriteHeader(herr.StatusCode())
		fmt.Fprintf(w, "%v", err)
		return
	}
	log.Logger(req.Context()).Sugar().Warnf("%s %s: %v", req.Method, req.URL.Path, err)
	w.WriteHeader(500)
	fmt.Fprintf(w, "%v", err)
}
