package transport

import (
	"encoding/json"
	"strconv"
)

// StatusOK is the application-level success status.
const StatusOK = "OK"

// Response is the structured body returned by the remote endpoint.
type Response struct {
	Status   string
	Message  string
	PhotoURL string
	PhotoID  string
	// Raw holds every field of the decoded body.
	Raw map[string]any
}

// OK reports whether the application status is "OK".
func (r *Response) OK() bool {
	return r != nil && r.Status == StatusOK
}

func parseResponse(body []byte) (*Response, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errNotObject
	}
	resp := &Response{
		Status:   text(raw["status"]),
		Message:  text(raw["mensagem"]),
		PhotoURL: text(raw["foto_url"]),
		PhotoID:  text(raw["foto_id"]),
		Raw:      raw,
	}
	if resp.Message == "" {
		resp.Message = text(raw["message"])
	}
	return resp, nil
}

// text renders a decoded JSON scalar as a string; absent and null give "".
func text(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}
