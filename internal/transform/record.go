package transform

import "encoding/json"

// Encode marshals the record as one JSON line. The "timestamp" key, when
// present, is emitted as "@timestamp" for log-stream consumers.
func (r Record) Encode() ([]byte, error) {
	out := make(map[string]any, len(r))
	for k, v := range r {
		if k == "timestamp" {
			out["@timestamp"] = v
			continue
		}
		out[k] = v
	}
	return json.Marshal(out)
}
