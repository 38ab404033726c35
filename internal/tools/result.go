package tools

import "encoding/json"

const toolNotFoundMessage = "Tool not found"

// Result is the outcome of one tool execution: either a success payload in
// Value or a failure description in Err. It is what the model sees as the
// tool message content.
type Result struct {
	Value any
	Err   string
}

// Success wraps a handler's return value.
func Success(v any) Result { return Result{Value: v} }

// Failure reports a tool failure with msg.
func Failure(msg string) Result { return Result{Err: msg} }

// Failed reports whether the result carries a failure.
func (r Result) Failed() bool { return r.Err != "" }

// MarshalJSON encodes failures as {"error": msg} and successes as the
// payload itself.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Failed() {
		return json.Marshal(map[string]string{"error": r.Err})
	}
	return json.Marshal(r.Value)
}

// String returns the JSON content of the tool message.
func (r Result) String() string {
	data, err := json.Marshal(r)
	if err != nil {
		fallback, _ := json.Marshal(map[string]string{"error": "unencodable tool result: " + err.Error()})
		return string(fallback)
	}
	return string(data)
}
