package sourcemap

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Norgate-AV/jsbundle/internal/codes"
)

var (
	// mapCommentPattern matches a trailing or standalone map reference comment
	mapCommentPattern = regexp.MustCompile(`(?m)^[ \t]*//[#@][ \t]*sourceMappingURL=(\S*)[ \t]*\r?$\n?`)

	// schemePattern matches namespaced sources such as webpack:// or virtual:
	schemePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]+:`)
)

// Extractor moves a bundle's source map into a sibling artifact
type Extractor struct {
	// Root is the directory sources are made relative to; the bundle is
	// assumed to live directly inside it
	Root string

	// BundleName names the bundle file and, with ".map", the map file
	BundleName string
}

// NewExtractor creates a new extractor
func NewExtractor(root, bundleName string) *Extractor {
	return &Extractor{Root: root, BundleName: bundleName}
}

// Extract returns the bundle with its map split out. When rawMap is nil the
// map is read from the bundle's inline data URI comment; otherwise rawMap is
// validated and any existing reference comment is replaced.
//
// On failure the returned artifact is still usable: it carries the bundle
// without a map reference, alongside a SourceMapExtractionError.
func (e *Extractor) Extract(code, rawMap []byte) (*Artifact, error) {
	stripped, inline := stripMapComments(code)

	artifact := &Artifact{
		Bundle:     terminate(stripped),
		BundleName: e.BundleName,
	}

	if rawMap == nil {
		if !strings.HasPrefix(inline, "data:") {
			return artifact, codes.New(codes.SourceMapExtractionError, "bundle has no inline source map")
		}

		decoded, err := decodeDataURI(inline)
		if err != nil {
			return artifact, codes.Wrap(codes.SourceMapExtractionError, err, "failed to decode inline source map")
		}

		rawMap = decoded
	}

	sm, err := Parse(rawMap)
	if err != nil {
		return artifact, err
	}

	e.normalize(sm)

	artifact.Map = sm
	artifact.Bundle = append(artifact.Bundle, []byte("//# sourceMappingURL="+MapName(e.BundleName)+"\n")...)
	artifact.ReferencesMap = true

	return artifact, nil
}

// Parse validates and decodes a source map
func Parse(raw []byte) (*SourceMap, error) {
	if !gjson.ValidBytes(raw) {
		return nil, codes.New(codes.SourceMapExtractionError, "source map is not valid JSON")
	}

	fields := gjson.GetManyBytes(raw, "version", "sources", "mappings")
	if !fields[0].Exists() || fields[0].Int() != Version {
		return nil, codes.New(codes.SourceMapExtractionError, "source map version must be %d", Version)
	}

	if !fields[1].IsArray() {
		return nil, codes.New(codes.SourceMapExtractionError, "source map has no sources array")
	}

	if fields[2].Type != gjson.String {
		return nil, codes.New(codes.SourceMapExtractionError, "source map has no mappings")
	}

	var sm SourceMap
	if err := json.Unmarshal(raw, &sm); err != nil {
		return nil, codes.Wrap(codes.SourceMapExtractionError, err, "failed to decode source map")
	}

	if sm.Names == nil {
		sm.Names = []string{}
	}

	return &sm, nil
}

// normalize rewrites sources relative to Root and names the bundle file
func (e *Extractor) normalize(sm *SourceMap) {
	root := filepath.Clean(e.Root)

	for i, src := range sm.Sources {
		sm.Sources[i] = normalizeSource(root, sm.SourceRoot, src)
	}

	sm.SourceRoot = ""
	sm.File = e.BundleName
}

func normalizeSource(root, sourceRoot, src string) string {
	if isNamespaced(src) {
		return src
	}

	p := filepath.FromSlash(src)
	if sourceRoot != "" && !isNamespaced(sourceRoot) && !filepath.IsAbs(p) {
		p = filepath.FromSlash(path.Join(sourceRoot, src))
	}

	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}

	rel, err := filepath.Rel(root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}

	return filepath.ToSlash(rel)
}

// isNamespaced reports sources that are not file paths. Schemes are at
// least two characters so a Windows drive letter never matches.
func isNamespaced(src string) bool {
	return schemePattern.MatchString(src)
}

// stripMapComments removes the trailing map reference comment and returns its
// URL. A reference followed by anything other than whitespace is program text
// and is left alone.
func stripMapComments(code []byte) ([]byte, string) {
	matches := mapCommentPattern.FindAllSubmatchIndex(code, -1)
	if len(matches) == 0 {
		return code, ""
	}

	last := matches[len(matches)-1]
	if len(bytes.TrimSpace(code[last[1]:])) > 0 {
		return code, ""
	}

	ref := string(code[last[2]:last[3]])

	out := make([]byte, 0, last[0])
	out = append(out, code[:last[0]]...)

	return out, ref
}

// terminate trims trailing blank lines and ends the bundle with one newline
func terminate(code []byte) []byte {
	trimmed := bytes.TrimRight(code, " \t\r\n")
	out := make([]byte, 0, len(trimmed)+1)
	out = append(out, trimmed...)

	return append(out, '\n')
}

// decodeDataURI decodes data:application/json[;charset=...][;base64],<data>
func decodeDataURI(uri string) ([]byte, error) {
	header, data, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("malformed data URI")
	}

	params := strings.Split(header, ";")
	if mediaType := strings.TrimSpace(params[0]); mediaType != "" && mediaType != "application/json" {
		return nil, fmt.Errorf("unexpected media type %q", mediaType)
	}

	for _, p := range params[1:] {
		if p == "base64" {
			return base64.StdEncoding.DecodeString(data)
		}
	}

	decoded, err := url.PathUnescape(data)
	if err != nil {
		return nil, err
	}

	return []byte(decoded), nil
}
