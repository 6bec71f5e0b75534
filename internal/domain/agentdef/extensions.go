package agentdef

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ExtensionBinding selects one extension key for an extension type.
type ExtensionBinding struct {
	Type string
	Key  string
}

// ExtensionDefaults maps extension type to extension key while preserving the
// order in which types were declared. It encodes as a JSON/YAML object.
type ExtensionDefaults []ExtensionBinding

// Get returns the key bound to typ.
func (e ExtensionDefaults) Get(typ string) (string, bool) {
	for _, b := range e {
		if b.Type == typ {
			return b.Key, true
		}
	}
	return "", false
}

// Set binds typ to key, keeping the original position of typ if present.
func (e ExtensionDefaults) Set(typ, key string) ExtensionDefaults {
	for i := range e {
		if e[i].Type == typ {
			e[i].Key = key
			return e
		}
	}
	return append(e, ExtensionBinding{Type: typ, Key: key})
}

// Clone returns an independent copy.
func (e ExtensionDefaults) Clone() ExtensionDefaults {
	if e == nil {
		return nil
	}
	return append(ExtensionDefaults(nil), e...)
}

// MarshalJSON encodes the bindings as an object in declaration order.
func (e ExtensionDefaults) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, b := range e {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(b.Type)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(b.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object, keeping key order.
func (e *ExtensionDefaults) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*e = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("default extensions: expected object")
	}
	var out ExtensionDefaults
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		typ, ok := kt.(string)
		if !ok {
			return errors.New("default extensions: expected string key")
		}
		var key string
		if err := dec.Decode(&key); err != nil {
			return fmt.Errorf("default extensions %q: %w", typ, err)
		}
		out = out.Set(typ, key)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*e = out
	return nil
}

// UnmarshalYAML decodes a mapping node, keeping key order.
func (e *ExtensionDefaults) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("default extensions: expected mapping, got line %d", node.Line)
	}
	var out ExtensionDefaults
	for i := 0; i+1 < len(node.Content); i += 2 {
		out = out.Set(node.Content[i].Value, node.Content[i+1].Value)
	}
	*e = out
	return nil
}

// Merge overlays caller-selected keys onto the defaults. Types present in the
// defaults keep their declared position; caller-only types are appended in
// the order given by callerOrder (callers pass a sorted slice for stability).
func (e ExtensionDefaults) Merge(caller map[string]string, callerOrder []string) ExtensionDefaults {
	out := e.Clone()
	for i := range out {
		if key, ok := caller[out[i].Type]; ok && key != "" {
			out[i].Key = key
		}
	}
	for _, typ := range callerOrder {
		key := caller[typ]
		if key == "" {
			continue
		}
		if _, ok := out.Get(typ); !ok {
			out = append(out, ExtensionBinding{Type: typ, Key: key})
		}
	}
	return out
}
