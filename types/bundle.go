package types

import (
	"path/filepath"
)

// OutputKind tells executable bundler output apart from static files
type OutputKind string

const (
	OutputKindChunk OutputKind = "chunk"
	OutputKindAsset OutputKind = "asset"
)

// Output describes a single file emitted by the bundler
type Output struct {
	FileName string
	Kind     OutputKind
}

// IsChunk reports whether the output holds executable code
func (o Output) IsChunk() bool {
	return o.Kind == OutputKindChunk
}

// Bundle is the set of outputs emitted by one build, keyed by their path
// relative to the output directory. Iteration follows insertion order.
type Bundle struct {
	keys    []string
	outputs map[string]Output
}

// NewBundle creates a bundle from the given outputs, in order
func NewBundle(outputs ...Output) *Bundle {
	b := &Bundle{outputs: make(map[string]Output, len(outputs))}
	for _, o := range outputs {
		b.Set(o.FileName, o.Kind)
	}
	return b
}

// Set adds or replaces an output. A replaced key keeps its original position.
func (b *Bundle) Set(fileName string, kind OutputKind) {
	if b.outputs == nil {
		b.outputs = make(map[string]Output)
	}
	if _, ok := b.outputs[fileName]; !ok {
		b.keys = append(b.keys, fileName)
	}
	b.outputs[fileName] = Output{FileName: fileName, Kind: kind}
}

// Get returns the output stored under fileName
func (b *Bundle) Get(fileName string) (Output, bool) {
	if b == nil {
		return Output{}, false
	}
	o, ok := b.outputs[fileName]
	return o, ok
}

// Len returns the number of outputs
func (b *Bundle) Len() int {
	if b == nil {
		return 0
	}
	return len(b.keys)
}

// Keys returns the output paths in insertion order
func (b *Bundle) Keys() []string {
	if b == nil {
		return nil
	}
	keys := make([]string, len(b.keys))
	copy(keys, b.keys)
	return keys
}

// Range calls fn for every output in insertion order until fn returns false
func (b *Bundle) Range(fn func(fileName string, output Output) bool) {
	if b == nil {
		return
	}
	for _, key := range b.keys {
		if !fn(key, b.outputs[key]) {
			return
		}
	}
}

// OutputOptions is the output location declared for a build: either a
// directory or a single output file.
type OutputOptions struct {
	Dir  string
	File string
}

// OutputDir returns the directory the bundler wrote into
func (o OutputOptions) OutputDir() string {
	if o.Dir != "" {
		return o.Dir
	}
	if o.File != "" {
		return filepath.Dir(o.File)
	}
	return ""
}
