package provision

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// readFile returns nil content and false when the file does not exist
func readFile(fs afero.Fs, path string) ([]byte, bool, error) {
	content, err := afero.ReadFile(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("could not read %s: %w", path, err)
	}
	return content, true, nil
}

func fileDiffers(fs afero.Fs, path string, want []byte) (bool, error) {
	current, exists, err := readFile(fs, path)
	if err != nil {
		return false, err
	}
	return !exists || !bytes.Equal(current, want), nil
}

func exists(fs afero.Fs, path string) (bool, error) {
	ok, err := afero.Exists(fs, path)
	if err != nil {
		return false, fmt.Errorf("could not stat %s: %w", path, err)
	}
	return ok, nil
}

// writeFile replaces path through a temporary file and a rename,
// so readers never see a half written config
func writeFile(fs afero.Fs, path string, content []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("could not create %s: %w", dir, err)
	}

	tmp := path + ".apideploy-tmp"
	if err := afero.WriteFile(fs, tmp, content, perm); err != nil {
		return fmt.Errorf("could not write %s: %w", tmp, err)
	}

	if err := fs.Rename(tmp, path); err != nil {
		fs.Remove(tmp)
		return fmt.Errorf("could not move %s into place: %w", path, err)
	}

	return nil
}

// linkTarget returns the target of the symlink at path, "" if path is
// missing and an error if it is something else
func linkTarget(fs afero.Fs, path string) (string, bool, error) {
	lstater, ok := fs.(afero.Lstater)
	if !ok {
		return "", false, fmt.Errorf("filesystem does not support symlinks")
	}

	info, _, err := lstater.LstatIfPossible(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("could not stat %s: %w", path, err)
	}

	if info.Mode()&os.ModeSymlink == 0 {
		return "", true, nil
	}

	reader, ok := fs.(afero.LinkReader)
	if !ok {
		return "", true, fmt.Errorf("filesystem cannot read links")
	}

	target, err := reader.ReadlinkIfPossible(path)
	if err != nil {
		return "", true, fmt.Errorf("could not read link %s: %w", path, err)
	}
	return target, true, nil
}

// forceSymlink points path at target, replacing whatever is there (ln -sf)
func forceSymlink(fs afero.Fs, target, path string) error {
	linker, ok := fs.(afero.Linker)
	if !ok {
		return fmt.Errorf("filesystem does not support symlinks")
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create %s: %w", filepath.Dir(path), err)
	}

	if err := fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not remove %s: %w", path, err)
	}

	if err := linker.SymlinkIfPossible(target, path); err != nil {
		return fmt.Errorf("could not link %s: %w", path, err)
	}
	return nil
}
