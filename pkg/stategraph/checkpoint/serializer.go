package checkpoint

import "encoding/json"

// Serializer converts channel values to and from bytes for persistence.
// Implementations must round-trip any value the graph's nodes write.
// The checkpoint envelope itself is always JSON; the Serializer governs
// only the channel payloads inside it.
type Serializer interface {
	Serialize(v any) ([]byte, error)
	Deserialize(data []byte) (any, error)
}

// JSONSerializer is the default Serializer. Note the usual encoding/json
// caveats apply on the way back: all numbers deserialize as float64 and
// structs as map[string]any.
type JSONSerializer struct{}

// Serialize implements Serializer.
func (JSONSerializer) Serialize(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Deserialize implements Serializer.
func (JSONSerializer) Deserialize(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
