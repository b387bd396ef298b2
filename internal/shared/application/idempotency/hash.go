package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"unicode/utf8"
)

// CanonicalHash calcula el hash estable del cuerpo de una petición.
// Un JSON válido se reserializa con claves ordenadas, sin espacios y con los
// números tal cual llegaron; cualquier otro cuerpo (incluido un JSON con UTF-8
// inválido, que el decodificador sustituiría por U+FFFD) se hashea en crudo.
func CanonicalHash(body []byte) string {
	sum := sha256.Sum256(canonicalize(body))
	return hex.EncodeToString(sum[:])
}

func canonicalize(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	if !utf8.Valid(trimmed) {
		return body
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return body
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return body
	}
	return bytes.TrimRight(buf.Bytes(), "\n")
}
