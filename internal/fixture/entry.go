package fixture

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/sourceops/cloud-custodian/internal/session"
)

// Entry is one recorded call.
//
// Index is the only matching key during replay. Params is kept for
// diagnostics and never consulted by the matcher.
type Entry struct {
	Index      int               `json:"index"`
	Operation  string            `json:"operation"`
	Service    string            `json:"service"`
	Method     string            `json:"method"`
	StatusCode int               `json:"status_code"`
	Params     json.RawMessage   `json:"params,omitempty"`
	Response   json.RawMessage   `json:"response,omitempty"`
	Error      *session.APIError `json:"error,omitempty"`
}

// NewEntry builds the entry for a call that produced resp or apiErr.
func NewEntry(index int, req *session.Request, resp *session.Response, apiErr *session.APIError) Entry {
	e := Entry{
		Index:     index,
		Operation: req.Operation(),
		Service:   req.Service,
		Method:    req.Method,
		Params:    req.Params,
	}
	switch {
	case apiErr != nil:
		e.StatusCode = apiErr.StatusCode
		e.Error = apiErr
	case resp != nil:
		e.StatusCode = resp.StatusCode
		e.Response = resp.Body
	}
	return e
}

// Codec serializes entries to and from their on-disk form.
type Codec interface {
	// Ext is the file extension including the dot.
	Ext() string
	Encode(e Entry) ([]byte, error)
	Decode(data []byte) (Entry, error)
}

// JSON stores entries as indented JSON documents. This is the default.
// A response body that is not compact JSON is stored verbatim as a string
// under response_raw, so replay returns exactly the recorded bytes.
var JSON Codec = jsonCodec{}

// YAML stores entries as YAML documents. Params and response are kept as
// JSON strings so replayed bytes match recorded bytes exactly.
var YAML Codec = yamlCodec{}

type jsonEntry struct {
	Entry
	ResponseRaw string `json:"response_raw,omitempty"`
}

type jsonCodec struct{}

func (jsonCodec) Ext() string { return ".json" }

func (jsonCodec) Encode(e Entry) ([]byte, error) {
	je := jsonEntry{Entry: e}
	if len(e.Response) > 0 {
		body, err := compact(e.Response)
		if err != nil {
			return nil, fmt.Errorf("response: %w", err)
		}
		if !bytes.Equal(body, e.Response) {
			je.Entry.Response = nil
			je.ResponseRaw = string(e.Response)
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(je); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (jsonCodec) Decode(data []byte) (Entry, error) {
	var je jsonEntry
	if err := json.Unmarshal(data, &je); err != nil {
		return Entry{}, err
	}
	e := je.Entry
	var err error
	if e.Params, err = compact(e.Params); err != nil {
		return Entry{}, fmt.Errorf("params: %w", err)
	}
	if e.Response, err = compact(e.Response); err != nil {
		return Entry{}, fmt.Errorf("response: %w", err)
	}
	if je.ResponseRaw != "" {
		if len(e.Response) > 0 {
			return Entry{}, fmt.Errorf("response and response_raw are both set")
		}
		if !json.Valid([]byte(je.ResponseRaw)) {
			return Entry{}, fmt.Errorf("response_raw: invalid JSON")
		}
		e.Response = json.RawMessage(je.ResponseRaw)
	}
	return e, nil
}

// compact strips the indentation the JSON codec adds around embedded documents.
func compact(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type yamlEntry struct {
	Index      int               `yaml:"index"`
	Operation  string            `yaml:"operation"`
	Service    string            `yaml:"service"`
	Method     string            `yaml:"method"`
	StatusCode int               `yaml:"status_code"`
	Params     string            `yaml:"params,omitempty"`
	Response   string            `yaml:"response,omitempty"`
	Error      *session.APIError `yaml:"error,omitempty"`
}

type yamlCodec struct{}

func (yamlCodec) Ext() string { return ".yaml" }

func (yamlCodec) Encode(e Entry) ([]byte, error) {
	params, err := compact(e.Params)
	if err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}
	if len(e.Response) > 0 && !json.Valid(e.Response) {
		return nil, fmt.Errorf("response: invalid JSON")
	}
	return yaml.Marshal(yamlEntry{
		Index:      e.Index,
		Operation:  e.Operation,
		Service:    e.Service,
		Method:     e.Method,
		StatusCode: e.StatusCode,
		Params:     string(params),
		Response:   string(e.Response),
		Error:      e.Error,
	})
}

func (yamlCodec) Decode(data []byte) (Entry, error) {
	var ye yamlEntry
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&ye); err != nil {
		return Entry{}, err
	}
	e := Entry{
		Index:      ye.Index,
		Operation:  ye.Operation,
		Service:    ye.Service,
		Method:     ye.Method,
		StatusCode: ye.StatusCode,
		Error:      ye.Error,
	}
	if ye.Params != "" {
		if !json.Valid([]byte(ye.Params)) {
			return Entry{}, fmt.Errorf("params: invalid JSON")
		}
		e.Params = json.RawMessage(ye.Params)
	}
	if ye.Response != "" {
		if !json.Valid([]byte(ye.Response)) {
			return Entry{}, fmt.Errorf("response: invalid JSON")
		}
		e.Response = json.RawMessage(ye.Response)
	}
	return e, nil
}

// CodecFor returns the codec registered for a format name ("json" or "yaml").
func CodecFor(format string) (Codec, error) {
	switch format {
	case "", "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	default:
		return nil, fmt.Errorf("unknown fixture format %q: must be json or yaml", format)
	}
}
