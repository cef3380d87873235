package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"nbng/pkg/codec"
)

// payloadFlags control how message bytes are read from and printed to the terminal.
type payloadFlags struct {
	hex    bool
	format string // raw, json, cbor or proto
}

// codec returns nil for raw payloads.
func (f payloadFlags) codec() (codec.Codec, error) {
	name := strings.ToLower(f.format)
	if name == "" || name == "raw" {
		return nil, nil
	}
	reg, err := codec.NewRegistry()
	if err != nil {
		return nil, err
	}
	c, err := reg.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported format %q (raw, %s)", f.format, strings.Join(reg.Names(), ", "))
	}
	return c, nil
}

// document reads command line text as a JSON document for a structured format.
func document(data string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("payload is not valid JSON: %w", err)
	}
	return v, nil
}

// raw turns command line text into payload bytes.
func (f payloadFlags) raw(data string) ([]byte, error) {
	if f.hex {
		return hex.DecodeString(strings.ReplaceAll(data, " ", ""))
	}
	return []byte(data), nil
}

// renderRaw formats unstructured payload bytes for printing.
func (f payloadFlags) renderRaw(b []byte) string {
	if f.hex {
		return hex.EncodeToString(b)
	}
	return string(b)
}

// show prints a decoded document as YAML.
func show(v any) (string, error) {
	out, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(out), "\n"), nil
}
