package httpserver

import (
	"encoding/json"
	"io"
)

// decodeJSON decodes a JSON request body into the destination struct.
// Unknown fields are ignored so clients can send supersets of the
// request shape. The reader is closed after decoding.
func decodeJSON(r io.ReadCloser, dest any) error {
	defer r.Close()
	return json.NewDecoder(r).Decode(dest)
}
