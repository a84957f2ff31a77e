package cache

import (
	"testing"

	"github.com/opencontainers/go-digest"

	"github.com/Norgate-AV/jsbundle/internal/sourcemap"
)

func testKey(s string) digest.Digest {
	return digest.FromString(s)
}

func testArtifact(t *testing.T, body string) *sourcemap.Artifact {
	t.Helper()

	content := "console.log(1)"

	return &sourcemap.Artifact{
		Bundle:        []byte(body + "\n//# sourceMappingURL=bundle.js.map\n"),
		BundleName:    "bundle.js",
		ReferencesMap: true,
		Inputs:        map[string]digest.Digest{"lib/util.js": digest.FromString("util")},
		Map: &sourcemap.SourceMap{
			Version:        3,
			File:           "bundle.js",
			Sources:        []string{"entry.js"},
			SourcesContent: []*string{&content},
			Names:          []string{},
			Mappings:       "AAAA",
		},
	}
}
