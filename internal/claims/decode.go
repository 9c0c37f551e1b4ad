package claims

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoClaimList is returned when model output holds no recognizable claim list
var ErrNoClaimList = errors.New("no claim list in model output")

// RawClaim is one claim as the model reported it, before resolution
type RawClaim struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	DocID    string `json:"doc_id"`
	Snippet  string `json:"snippet"`
	Verified *bool  `json:"verified"`
	Critical bool   `json:"critical"`
}

type strictClaim struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	DocID    *string `json:"doc_id"`
	Snippet  string  `json:"snippet"`
	Verified *bool   `json:"verified"`
	Critical bool    `json:"critical"`
}

type strictReply struct {
	Claims []strictClaim `json:"claims"`
}

// Decode parses extractor output. The documented {"claims":[...]} shape is
// tried first; anything else goes through DecodeLegacy.
func Decode(data []byte) ([]RawClaim, error) {
	data = trimToJSON(data)

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var reply strictReply
	if err := dec.Decode(&reply); err == nil && reply.Claims != nil {
		out := make([]RawClaim, len(reply.Claims))
		for i, c := range reply.Claims {
			out[i] = RawClaim{ID: c.ID, Text: c.Text, Snippet: c.Snippet, Verified: c.Verified, Critical: c.Critical}
			if c.DocID != nil {
				out[i].DocID = *c.DocID
			}
		}
		return out, nil
	}

	return DecodeLegacy(data)
}

// DecodeLegacy accepts the looser shapes older prompts produced: a bare
// array, alternative list keys, camelCase field names, numeric document
// indexes and plain string claims.
func DecodeLegacy(data []byte) ([]RawClaim, error) {
	var v interface{}
	if err := json.Unmarshal(trimToJSON(data), &v); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}

	items, ok := claimList(v)
	if !ok {
		return nil, ErrNoClaimList
	}

	out := make([]RawClaim, 0, len(items))
	for _, item := range items {
		switch it := item.(type) {
		case string:
			out = append(out, RawClaim{Text: it})
		case map[string]interface{}:
			out = append(out, RawClaim{
				ID:       stringField(it, "id", "claim_id", "claimId"),
				Text:     stringField(it, "text", "claim", "statement"),
				DocID:    docField(it, "doc_id", "docId", "source_id", "document_id", "doc"),
				Snippet:  stringField(it, "snippet", "quote", "evidence"),
				Verified: boolPtrField(it, "verified", "supported"),
				Critical: boolField(it, "critical", "is_critical"),
			})
		}
	}
	return out, nil
}

func claimList(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case []interface{}:
		return t, true
	case map[string]interface{}:
		for _, key := range []string{"claims", "items", "facts", "results"} {
			if list, ok := t[key].([]interface{}); ok {
				return list, true
			}
		}
	}
	return nil, false
}

func stringField(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// docField normalizes document references; a bare number n means doc_n
func docField(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if _, err := strconv.Atoi(v); err == nil {
				return docIDPrefix + v
			}
			return v
		case float64:
			return docIDPrefix + strconv.Itoa(int(v))
		}
	}
	return ""
}

func boolPtrField(m map[string]interface{}, keys ...string) *bool {
	for _, k := range keys {
		switch v := m[k].(type) {
		case bool:
			return &v
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return &b
			}
		}
	}
	return nil
}

func boolField(m map[string]interface{}, keys ...string) bool {
	if p := boolPtrField(m, keys...); p != nil {
		return *p
	}
	return false
}

// trimToJSON drops code fences and prose around the outermost JSON value
func trimToJSON(data []byte) []byte {
	s := strings.TrimSpace(string(data))
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return []byte(s)
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end < start {
		return []byte(s[start:])
	}
	return []byte(s[start : end+1])
}
