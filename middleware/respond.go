package middleware

import (
	"encoding/json"
	"net/http"

	goGuard "github.com/MrEthical07/goGuard"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes err as a {code, message} document with the status
// mapped by goGuard.PublicErrorFor.
func WriteError(w http.ResponseWriter, err error) {
	pub := goGuard.PublicErrorFor(err)
	writeJSON(w, pub.Status, pub)
}
