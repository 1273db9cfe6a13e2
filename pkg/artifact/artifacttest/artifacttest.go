// Package artifacttest builds development artifacts for tests. Setup is slow,
// so each test binary does it once and shares the directory.
package artifacttest

import (
	"os"
	"sync"
	"testing"

	"github.com/yourorg/zkspend/circuits"
	"github.com/yourorg/zkspend/pkg/artifact"
)

var (
	once sync.Once
	dir  string
	err  error
)

// Dir returns a directory holding .r1cs, .zkey (with embedded key) and .vkey
// files for every registered circuit.
func Dir(t testing.TB) string {
	t.Helper()
	once.Do(func() {
		dir, err = os.MkdirTemp("", "zkspend-artifacts-")
		if err != nil {
			return
		}
		for _, id := range circuits.IDs() {
			if _, err = artifact.Setup(dir, id, artifact.SetupOptions{
				ExportVerifyingKey: true,
				EmbedVerifyingKey:  true,
			}); err != nil {
				return
			}
		}
	})
	if err != nil {
		t.Fatalf("artifact setup: %v", err)
	}
	return dir
}
