package bootcli

import (
	"encoding/pem"
	"os"
	"path/filepath"

	"github.com/marmos91/netboot/internal/crypto/cms"
	"github.com/marmos91/netboot/internal/errcode"
)

// loadTrustStore reads every PEM-encoded certificate under rootsPath
// (a single file or a directory of .pem/.crt files) into a
// cms.TrustStore, the trust anchors internal/crypto/cms.Verify chains
// signed kernels/initrds against.
func loadTrustStore(rootsPath string) (cms.TrustStore, error) {
	var store cms.TrustStore

	info, err := os.Stat(rootsPath)
	if err != nil {
		return store, errcode.Wrap(errcode.IO, err, "trust: stat %q", rootsPath)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(rootsPath)
		if err != nil {
			return store, errcode.Wrap(errcode.IO, err, "trust: read dir %q", rootsPath)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			files = append(files, filepath.Join(rootsPath, e.Name()))
		}
	} else {
		files = []string{rootsPath}
	}

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return store, errcode.Wrap(errcode.IO, err, "trust: read %q", f)
		}
		for {
			var block *pem.Block
			block, data = pem.Decode(data)
			if block == nil {
				break
			}
			if block.Type != "CERTIFICATE" {
				continue
			}
			if err := store.AddRootDER(block.Bytes); err != nil {
				return store, err
			}
		}
	}

	return store, nil
}
