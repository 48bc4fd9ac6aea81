package sandbox

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// makeWorkspace creates an empty build context directory for one
// submission, replacing any leftover from a previous run of the same
// user and task.
func makeWorkspace(root string, userID, taskID int64) (string, error) {
	dir := filepath.Join(root, fmt.Sprintf("%d-%d", userID, taskID))
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clear workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// stageSubmission lays a submission into the build context: the raw
// archive as submission.zip and its extracted tree under submission/,
// which is the layout the language recipes build from.
func stageSubmission(dir string, archive []byte) error {
	if err := os.WriteFile(filepath.Join(dir, "submission.zip"), archive, 0o644); err != nil {
		return fmt.Errorf("write submission archive: %w", err)
	}
	sub := filepath.Join(dir, "submission")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		return err
	}
	return unpackArchive(sub, archive)
}

func copyFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// unpackArchive extracts a zip submission into dir. Entry paths are
// confined to dir so a crafted archive cannot write outside the build
// context.
func unpackArchive(dir string, archive []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return fmt.Errorf("open submission archive: %w", err)
	}

	for _, f := range zr.File {
		name := filepath.Clean(filepath.FromSlash(f.Name))
		if name == "." {
			continue
		}
		if filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, ".."+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes the workspace", f.Name)
		}

		dst := filepath.Join(dir, name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}

		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.Create(dst)
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}
