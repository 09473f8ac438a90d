package step

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Run is the result of one algorithm execution: the renderer to use,
// the source it traced, and the immutable step sequence.
type Run struct {
	Kind       Kind
	SourceCode string
	Steps      []Step
}

type runWire struct {
	RendererType string `json:"renderer_type"`
	SourceCode   string `json:"source_code"`
	Steps        []Step `json:"steps"`
	Error        string `json:"error"`
}

// ServiceError is an {error: "..."} body returned by the execution service.
type ServiceError struct{ Message string }

func (e *ServiceError) Error() string { return e.Message }

// DecodeRun parses a /api/run response body.
func DecodeRun(body []byte) (*Run, error) {
	var w runWire
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	if w.Error != "" {
		return nil, &ServiceError{Message: w.Error}
	}
	kind, err := ParseKind(w.RendererType)
	if err != nil {
		return nil, err
	}
	if w.Steps == nil {
		return nil, errors.New("decode run: missing steps")
	}
	return &Run{Kind: kind, SourceCode: w.SourceCode, Steps: w.Steps}, nil
}
