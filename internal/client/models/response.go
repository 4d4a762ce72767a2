package models

import (
	"bytes"
	"encoding/json"
	"errors"
)

var ErrEmptyBody = errors.New("empty response body")

// Meta is the optional pagination block of an enveloped list response.
type Meta struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
	Total    int `json:"total"`
}

// Response is the {data, meta?} envelope some endpoints wrap their payload in.
type Response[T any] struct {
	Data T     `json:"data"`
	Meta *Meta `json:"meta,omitempty"`
}

// Decode parses body as either an enveloped Response[T] or a bare T.
// An object with a top-level "data" key is treated as an envelope.
func Decode[T any](body []byte) (Response[T], error) {
	var out Response[T]

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return out, ErrEmptyBody
	}

	if body[0] == '{' {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(body, &probe); err != nil {
			return out, err
		}
		if _, ok := probe["data"]; ok {
			err := json.Unmarshal(body, &out)
			return out, err
		}
	}

	err := json.Unmarshal(body, &out.Data)
	return out, err
}
