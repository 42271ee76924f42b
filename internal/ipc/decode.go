package ipc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

func decodeRequest(payload []byte, req *Request) error {
	if !utf8.Valid(payload) {
		return fmt.Errorf("decode request: payload is not valid UTF-8")
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func decodeResponse(payload []byte, resp *Response) error {
	if err := json.Unmarshal(payload, resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
