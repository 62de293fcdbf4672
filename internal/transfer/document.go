package transfer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rflorenc/towerxfer/internal/models"
)

// Reserved keys of an asset in a document.
const (
	KeyAssetType     = "asset_type"
	KeyAssetRelation = "asset_relation"
)

// Format is a document serialization.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" or "yml".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown format %q", s)
}

// MarshalJSON writes the asset's fields next to the reserved keys.
func (a *Asset) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(a.Fields)+2)
	for k, v := range a.Fields {
		m[k] = v
	}
	m[KeyAssetType] = a.Type
	if len(a.Relations) > 0 {
		rels := make(map[string]Relation, len(a.Relations))
		for _, r := range a.Relations {
			rels[string(r.Kind())] = r
		}
		m[KeyAssetRelation] = rels
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads an asset. A missing asset_type is left empty for
// validation to report.
func (a *Asset) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	fields := make(models.Resource, len(raw))
	for k, v := range raw {
		switch k {
		case KeyAssetType:
			var t string
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("%s: %w", KeyAssetType, err)
			}
			a.Type = AssetType(t)
		case KeyAssetRelation:
			var rels map[string]json.RawMessage
			if err := json.Unmarshal(v, &rels); err != nil {
				return fmt.Errorf("%s: %w", KeyAssetRelation, err)
			}
			a.Relations = a.Relations[:0]
			for kind, body := range rels {
				rel, err := decodeRelation(RelationKind(kind), body)
				if err != nil {
					return err
				}
				a.Relations = append(a.Relations, rel)
			}
			sortRelations(a.Relations)
		default:
			var val interface{}
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("field %s: %w", k, err)
			}
			fields[k] = val
		}
	}
	a.Fields = fields
	return nil
}

// WriteDocument serializes assets as a list. JSON is indented by two
// spaces; YAML uses block style.
func WriteDocument(w io.Writer, assets []*Asset, format Format) error {
	if assets == nil {
		assets = []*Asset{}
	}
	data, err := json.MarshalIndent(assets, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	if format != FormatYAML {
		data = append(data, '\n')
		_, err = w.Write(data)
		return err
	}

	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	return enc.Close()
}

// ParseDocument reads a JSON or YAML document holding either a list of
// assets or a single asset.
func ParseDocument(data []byte) ([]*Asset, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if !json.Valid(trimmed) {
		// YAML is a superset of JSON, so anything that is not JSON is
		// decoded as YAML and re-encoded to reuse the JSON decoders.
		var generic interface{}
		if err := yaml.Unmarshal(trimmed, &generic); err != nil {
			return nil, fmt.Errorf("parsing document: %w", err)
		}
		var err error
		if trimmed, err = json.Marshal(generic); err != nil {
			return nil, fmt.Errorf("parsing document: %w", err)
		}
	}

	switch trimmed[0] {
	case '[':
		var assets []*Asset
		if err := json.Unmarshal(trimmed, &assets); err != nil {
			return nil, fmt.Errorf("parsing document: %w", err)
		}
		return assets, nil
	case '{':
		var a Asset
		if err := json.Unmarshal(trimmed, &a); err != nil {
			return nil, fmt.Errorf("parsing document: %w", err)
		}
		return []*Asset{&a}, nil
	}
	return nil, fmt.Errorf("parsing document: expected a list or a mapping of assets")
}

// documentExts are the file extensions read from directories.
var documentExts = map[string]bool{".json": true, ".yml": true, ".yaml": true}

// ReadSources concatenates the assets of stdin (when non-nil) and every
// path. Directories are read non-recursively, files with a document
// extension only.
func ReadSources(stdin io.Reader, paths []string) ([]*Asset, error) {
	var all []*Asset
	if stdin != nil {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		assets, err := ParseDocument(data)
		if err != nil {
			return nil, fmt.Errorf("stdin: %w", err)
		}
		all = append(all, assets...)
	}

	for _, p := range paths {
		files, err := expandPath(p)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", f, err)
			}
			assets, err := ParseDocument(data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f, err)
			}
			all = append(all, assets...)
		}
	}
	return all, nil
}

func expandPath(p string) ([]string, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{p}, nil
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !documentExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(p, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
