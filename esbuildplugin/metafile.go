package esbuildplugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/ethereum-optimism/infra/op-bundletest/types"
)

// chunkExtensions are the output extensions that are executable chunks
var chunkExtensions = map[string]bool{
	".js":  true,
	".mjs": true,
	".cjs": true,
}

// OutputOptionsFrom derives the output options of a build. Relative output
// paths are resolved against AbsWorkingDir when it is set, which is what
// esbuild does when writing them.
func OutputOptionsFrom(opts *api.BuildOptions) types.OutputOptions {
	if opts == nil {
		return types.OutputOptions{}
	}
	out := types.OutputOptions{Dir: opts.Outdir, File: opts.Outfile}
	if opts.AbsWorkingDir != "" {
		if out.Dir != "" && !filepath.IsAbs(out.Dir) {
			out.Dir = filepath.Join(opts.AbsWorkingDir, out.Dir)
		}
		if out.File != "" && !filepath.IsAbs(out.File) {
			out.File = filepath.Join(opts.AbsWorkingDir, out.File)
		}
	}
	return out
}

// BundleFromMetafile converts the outputs of an esbuild metafile into a
// bundle keyed by paths relative to outputDir, in metafile order. Metafile
// keys are relative to workingDir.
func BundleFromMetafile(metafile string, outputDir string, workingDir string) (*types.Bundle, error) {
	outputs, err := decodeOutputs(strings.NewReader(metafile))
	if err != nil {
		return nil, fmt.Errorf("failed to decode metafile: %w", err)
	}

	absOutputDir := outputDir
	if !filepath.IsAbs(absOutputDir) {
		absOutputDir = filepath.Join(workingDir, outputDir)
	}

	bundle := types.NewBundle()
	for _, key := range outputs {
		path := key
		if !filepath.IsAbs(path) {
			path = filepath.Join(workingDir, filepath.FromSlash(key))
		}
		fileName, err := filepath.Rel(absOutputDir, path)
		if err != nil {
			return nil, fmt.Errorf("output %s is not below %s: %w", key, outputDir, err)
		}
		bundle.Set(fileName, outputKind(fileName))
	}
	return bundle, nil
}

func outputKind(fileName string) types.OutputKind {
	if chunkExtensions[strings.ToLower(filepath.Ext(fileName))] {
		return types.OutputKindChunk
	}
	return types.OutputKindAsset
}

// decodeOutputs returns the keys of the "outputs" object in document order.
// Decoding into a map would lose the order esbuild emitted them in.
func decodeOutputs(r io.Reader) ([]string, error) {
	dec := json.NewDecoder(r)
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		if name != "outputs" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, err
			}
			continue
		}

		if err := expectDelim(dec, '{'); err != nil {
			return nil, fmt.Errorf("outputs: %w", err)
		}
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := tok.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected output key %v", tok)
			}
			var entry json.RawMessage
			if err := dec.Decode(&entry); err != nil {
				return nil, fmt.Errorf("output %s: %w", key, err)
			}
			keys = append(keys, key)
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, fmt.Errorf("outputs: %w", err)
		}
	}
	return keys, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("unexpected end of metafile")
		}
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %v, got %v", want, tok)
	}
	return nil
}
