package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumManifest is the on-disk .checksums file written by `vigil config lock`.
type ChecksumManifest struct {
	GeneratedAt time.Time         `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"` // base filename -> blake3 hex
}

// IntegrityResult reports the outcome of a checksum verification.
type IntegrityResult struct {
	Verified bool
	Warnings []string
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// checksumPath returns the manifest location for a given config file.
func checksumPath(configFile string) string {
	return filepath.Join(filepath.Dir(configFile), ".checksums")
}

// WriteChecksums hashes the config file and writes the .checksums manifest
// next to it. This is the `config lock` operation.
func WriteChecksums(configFile string) (string, error) {
	hash, err := ComputeBlake3Hash(configFile)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", configFile, err)
	}

	manifest := ChecksumManifest{
		GeneratedAt: time.Now().UTC(),
		Hashes: map[string]string{
			filepath.Base(configFile): hash,
		},
	}

	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return "", fmt.Errorf("marshal checksums: %w", err)
	}

	out := checksumPath(configFile)
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", out, err)
	}
	return out, nil
}

// VerifyIntegrity checks the config file against its .checksums manifest, if
// one exists. A watcher config is edited often, so mismatches are surfaced as
// warnings rather than hard failures; a missing manifest is not an error.
func VerifyIntegrity(configFile string) (*IntegrityResult, error) {
	result := &IntegrityResult{Verified: true}

	manifestPath := checksumPath(configFile)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			result.Verified = false
			return result, nil
		}
		return nil, fmt.Errorf("read %s: %w", manifestPath, err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse %s: %w", manifestPath, err)
	}

	name := filepath.Base(configFile)
	expected, ok := manifest.Hashes[name]
	if !ok {
		result.Verified = false
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%s is not listed in %s; run 'vigil config lock'", name, manifestPath))
		return result, nil
	}

	actual, err := ComputeBlake3Hash(configFile)
	if err != nil {
		return nil, err
	}
	if actual != expected {
		result.Verified = false
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("hash mismatch for %s (expected %s, got %s); config changed since last 'vigil config lock'",
				name, expected, actual))
	}

	return result, nil
}
