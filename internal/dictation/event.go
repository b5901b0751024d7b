package dictation

import (
	"encoding/json"
	"fmt"
)

// Parse failure codes, distinguishing transport corruption from protocol
// violations so callers can report them separately.
const (
	CodeInvalidJSON   = "sidecar_invalid_json"
	CodeInvalidSchema = "sidecar_invalid_schema"
)

// ParseError describes one rejected recognizer stdout line.
type ParseError struct {
	Code string
	Line string
	Err  error
}

// Error formats the parse failure with the offending line.
func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %v; line=%s", e.Code, e.Err, e.Line)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// SidecarEvent is one decoded recognizer stdout event. The variant set is
// closed; unknown discriminants are rejected at parse time.
type SidecarEvent interface {
	isSidecarEvent()
}

// Partial is an in-progress transcription hypothesis.
type Partial struct {
	Text     string
	Unstable *string
}

// Final is a committed transcript segment with optional timing.
type Final struct {
	Text  string
	Start *float64
	End   *float64
}

// AudioLevel reports the current input level for UI metering.
type AudioLevel struct {
	Level float64
}

// ErrorEvent is a recognizer-reported failure; it terminates the stream.
type ErrorEvent struct {
	Code    string
	Msg     string
	Context map[string]any
}

// Log is recognizer chatter. It is decoded but deliberately ignored by the
// supervisor rather than omitted from the variant set.
type Log struct {
	Msg string
}

func (Partial) isSidecarEvent()    {}
func (Final) isSidecarEvent()      {}
func (AudioLevel) isSidecarEvent() {}
func (ErrorEvent) isSidecarEvent() {}
func (Log) isSidecarEvent()        {}

// ParseEventLine decodes one trimmed, non-empty stdout line into a sidecar
// event. It is a pure decode step; all I/O and event forwarding live in the
// supervisor.
func ParseEventLine(line string) (SidecarEvent, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		if _, ok := err.(*json.UnmarshalTypeError); ok {
			return nil, &ParseError{
				Code: CodeInvalidSchema,
				Line: line,
				Err:  fmt.Errorf("line is not a JSON object"),
			}
		}
		return nil, &ParseError{Code: CodeInvalidJSON, Line: line, Err: err}
	}

	discriminant, err := stringField(raw, "t")
	if err != nil {
		return nil, &ParseError{
			Code: CodeInvalidSchema,
			Line: line,
			Err:  fmt.Errorf("missing t"),
		}
	}

	switch discriminant {
	case "partial":
		text, err := stringField(raw, "text")
		if err != nil {
			return nil, schemaError(line, "partial missing text")
		}
		return Partial{Text: text, Unstable: optionalString(raw, "unstable")}, nil

	case "final":
		text, err := stringField(raw, "text")
		if err != nil {
			return nil, schemaError(line, "final missing text")
		}
		return Final{
			Text:  text,
			Start: optionalFloat(raw, "start"),
			End:   optionalFloat(raw, "end"),
		}, nil

	case "audio_level":
		level := optionalFloat(raw, "level")
		if level == nil {
			return nil, schemaError(line, "audio_level missing level")
		}
		return AudioLevel{Level: *level}, nil

	case "log":
		msg, _ := stringField(raw, "msg")
		return Log{Msg: msg}, nil

	case "error":
		code, err := stringField(raw, "code")
		if err != nil {
			return nil, schemaError(line, "error missing code")
		}
		msg, err := stringField(raw, "msg")
		if err != nil {
			return nil, schemaError(line, "error missing msg")
		}
		return ErrorEvent{Code: code, Msg: msg, Context: objectField(raw, "context")}, nil

	default:
		return nil, schemaError(line, fmt.Sprintf("unknown t value: %s", discriminant))
	}
}

// schemaError builds a protocol-violation parse error.
func schemaError(line, message string) *ParseError {
	return &ParseError{
		Code: CodeInvalidSchema,
		Line: line,
		Err:  fmt.Errorf("%s", message),
	}
}

// stringField extracts a required string value from the raw object.
func stringField(raw map[string]json.RawMessage, key string) (string, error) {
	value, ok := raw[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return "", fmt.Errorf("%s is not a string", key)
	}
	return s, nil
}

// optionalString extracts an optional string value, nil when absent.
func optionalString(raw map[string]json.RawMessage, key string) *string {
	value, ok := raw[key]
	if !ok {
		return nil
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return nil
	}
	return &s
}

// optionalFloat extracts an optional number value, nil when absent.
func optionalFloat(raw map[string]json.RawMessage, key string) *float64 {
	value, ok := raw[key]
	if !ok {
		return nil
	}
	var f float64
	if err := json.Unmarshal(value, &f); err != nil {
		return nil
	}
	return &f
}

// objectField extracts an optional object value, empty map when absent.
func objectField(raw map[string]json.RawMessage, key string) map[string]any {
	value, ok := raw[key]
	if !ok {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal(value, &obj); err != nil {
		return map[string]any{}
	}
	return obj
}
