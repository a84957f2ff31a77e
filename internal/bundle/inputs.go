package bundle

import (
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/tidwall/gjson"
)

// diskInputs lists the files named in the engine's metafile that were read
// from disk. Request files and virtual modules are covered by the key and
// are left out.
func diskInputs(metafile string, mods *moduleTable) map[string]digest.Digest {
	var inputs map[string]digest.Digest

	gjson.Get(metafile, "inputs").ForEach(func(name, _ gjson.Result) bool {
		p := name.String()
		if strings.HasPrefix(p, entryNamespace+":") {
			return true
		}

		abs := mods.absolute(p)
		if _, ok := mods.sources[abs]; ok {
			return true
		}

		d, err := HashFile(abs)
		if err != nil {
			// not a real file, e.g. a module from another plugin namespace
			return true
		}

		if inputs == nil {
			inputs = make(map[string]digest.Digest)
		}
		inputs[mods.relative(abs)] = d

		return true
	})

	return inputs
}

// CheckInputs hashes the recorded inputs again under root. It returns the
// current digests and the paths whose content differs from the record; a
// file that can no longer be read has an empty digest.
func CheckInputs(root string, inputs map[string]digest.Digest) (map[string]digest.Digest, []string, error) {
	if len(inputs) == 0 {
		return nil, nil, nil
	}

	root, err := resolveRoot(root)
	if err != nil {
		return nil, nil, err
	}

	current := make(map[string]digest.Digest, len(inputs))
	var changed []string

	for p, recorded := range inputs {
		abs := filepath.FromSlash(p)
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(root, abs)
		}

		d, _ := HashFile(abs)

		current[p] = d
		if d != recorded {
			changed = append(changed, p)
		}
	}

	return current, changed, nil
}
