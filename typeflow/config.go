package typeflow

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// LoadOptions reads a YAML options document over DefaultOptions. An empty
// document yields the defaults.
//
//	max_block_visits: 256
//	log_level: debug
//	log_snapshot_deltas: false
func LoadOptions(r io.Reader) (Options, error) {
	opts, err := decodeOptions(r, DefaultOptions())
	if err != nil {
		return Options{}, fmt.Errorf("failed to decode options: %w", err)
	}
	return opts, nil
}

// DecodeOptions decodes an options mapping embedded in a larger document
// over base. A nil node returns base unchanged. Unknown keys are rejected
// as they are by LoadOptions.
func DecodeOptions(node *yaml.Node, base Options) (Options, error) {
	if node == nil || node.Kind == 0 {
		return base, nil
	}
	// yaml.Node.Decode has no strict mode, so the mapping goes through a
	// decoder again.
	raw, err := yaml.Marshal(node)
	if err != nil {
		return Options{}, fmt.Errorf("failed to read options at line %d: %w", node.Line, err)
	}
	opts, err := decodeOptions(bytes.NewReader(raw), base)
	if err != nil {
		return Options{}, fmt.Errorf("failed to decode options at line %d: %w", node.Line, err)
	}
	return opts, nil
}

func decodeOptions(r io.Reader, base Options) (Options, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	opts := base
	if err := dec.Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		return Options{}, err
	}
	if err := opts.validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func (o Options) validate() error {
	if o.MaxBlockVisits < 0 {
		return fmt.Errorf("max_block_visits must not be negative, got %d", o.MaxBlockVisits)
	}
	switch o.LogLevel {
	case "", "error", "warn", "warning", "info", "debug",
		"ERROR", "WARN", "WARNING", "INFO", "DEBUG":
	default:
		return fmt.Errorf("unknown log_level %q", o.LogLevel)
	}
	return nil
}
