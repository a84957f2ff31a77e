//go:build property
// +build property

package bundle

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestHashProperties tests determinism and sensitivity of cache keys
func TestHashProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	// Property: identical inputs always hash the same
	properties.Property("hash is deterministic", prop.ForAll(
		func(content, env string, minify bool) bool {
			build := func() *Request {
				req, err := NewRequest(
					[]File{{Path: "entry.js", Source: []byte(content)}},
					Options{EnvOverrides: map[string]string{"NODE_ENV": env}, Minify: minify},
				)
				if err != nil {
					t.Fatal(err)
				}
				return req
			}

			k1, err1 := Hash(build())
			k2, err2 := Hash(build())

			return err1 == nil && err2 == nil && k1 == k2
		},
		gen.AnyString(),
		gen.AlphaString(),
		gen.Bool(),
	))

	// Property: changing any single byte of content changes the key
	properties.Property("single byte change changes hash", prop.ForAll(
		func(content string, index int, delta int) bool {
			if content == "" {
				return true
			}

			original := []byte(content)
			changed := []byte(content)
			i := index % len(changed)
			changed[i] += byte(delta)

			a, err := NewRequest([]File{{Path: "entry.js", Source: original}}, Options{})
			if err != nil {
				return false
			}
			b, err := NewRequest([]File{{Path: "entry.js", Source: changed}}, Options{})
			if err != nil {
				return false
			}

			ka, _ := Hash(a)
			kb, _ := Hash(b)

			return ka != kb
		},
		gen.AnyString(),
		gen.IntRange(0, 1<<16),
		gen.IntRange(1, 255),
	))

	// Property: changing an env override value changes the key
	properties.Property("env value change changes hash", prop.ForAll(
		func(v1, v2 string) bool {
			if v1 == v2 {
				return true
			}

			files := []File{{Path: "entry.js", Source: []byte("process.env.X")}}
			a, _ := NewRequest(files, Options{EnvOverrides: map[string]string{"X": v1}})
			b, _ := NewRequest(files, Options{EnvOverrides: map[string]string{"X": v2}})

			ka, _ := Hash(a)
			kb, _ := Hash(b)

			return ka != kb
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
