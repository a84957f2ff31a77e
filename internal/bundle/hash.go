package bundle

import (
	_ "crypto/sha256" // registers the canonical digest algorithm
	"fmt"
	"hash"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/opencontainers/go-digest"
)

// hashFormat is written first so a change to the encoding below
// invalidates every previously computed key
const hashFormat = "jsbundle-key/v1"

// Hash creates the cache key for a request
// The key is based on:
// - each file's path and content, in declared order
// - every option except Root, sorted by option name
//
// Root is left out so relative requests hash the same on every machine.
func Hash(req *Request) (digest.Digest, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	d := digest.Canonical.Digester()
	h := d.Hash()

	writeField(h, "format", hashFormat)

	for _, f := range req.files {
		writeField(h, "file", f.Path)
		writeField(h, "content", string(f.Source))
	}

	for _, opt := range canonicalOptions(req.opts) {
		writeField(h, "option", opt)
	}

	return d.Digest(), nil
}

// DependencyKey derives the key for a request whose disk dependencies now
// have the given digests. An entry stored under key that was built from other
// dependency content is superseded by the entry stored under this key.
func DependencyKey(key digest.Digest, inputs map[string]digest.Digest) digest.Digest {
	d := digest.Canonical.Digester()
	h := d.Hash()

	writeField(h, "format", hashFormat)
	writeField(h, "key", key.String())

	for _, p := range slices.Sorted(maps.Keys(inputs)) {
		writeField(h, "input", p)
		writeField(h, "digest", inputs[p].String())
	}

	return d.Digest()
}

// HashFile returns the content digest of a file
func HashFile(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	d, err := digest.Canonical.FromReader(f)
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}

	return d, nil
}

// writeField writes a length-prefixed record so no content can forge a boundary
func writeField(h hash.Hash, tag, value string) {
	fmt.Fprintf(h, "\x1e%s\x1f%d:", tag, len(value))
	h.Write([]byte(value))
}

// canonicalOptions renders options as name=value pairs sorted by name
func canonicalOptions(o Options) []string {
	opts := []string{
		"bundleName=" + strconv.Quote(o.BundleName),
		"envOverrides=" + canonicalMap(o.EnvOverrides),
		"globalName=" + strconv.Quote(o.GlobalName),
		"minify=" + strconv.FormatBool(o.Minify),
		"moduleAliases=" + canonicalMap(o.ModuleAliases),
		"sourceMapMode=" + strconv.Quote(string(o.SourceMapMode)),
		"sourceMapsRequired=" + strconv.FormatBool(o.SourceMapsRequired),
		"transforms=" + canonicalList(o.Transforms),
	}
	slices.Sort(opts)

	return opts
}

// canonicalList keeps declared order, transform order changes the output
func canonicalList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}

	return "[" + strings.Join(quoted, ",") + "]"
}

func canonicalMap(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = strconv.Quote(k) + ":" + strconv.Quote(m[k])
	}

	return "{" + strings.Join(pairs, ",") + "}"
}
