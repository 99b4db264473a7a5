package spill

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const resumeFileName = "last.txt"

// ReadResumePointer reads <dir>/last.txt, returning the spill file path
// and byte offset the Uploader was draining when it last stopped.
// Missing or empty file means no resume (ok=false). A malformed offset
// defaults to 0, per spec.md §4.4 and §9's open-question resolution.
func ReadResumePointer(dir string) (path string, offset int64, ok bool, err error) {
	f, err := os.Open(filepath.Join(dir, resumeFileName))
	if os.IsNotExist(err) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return "", 0, false, nil
	}
	path = strings.TrimSpace(sc.Text())
	if path == "" {
		return "", 0, false, nil
	}
	if sc.Scan() {
		if v, perr := strconv.ParseInt(strings.TrimSpace(sc.Text()), 10, 64); perr == nil && v >= 0 {
			offset = v
		}
	}
	return path, offset, true, nil
}

// WriteResumePointer truncates and rewrites last.txt with the absolute
// path and byte offset of the file still mid-drain at shutdown.
func WriteResumePointer(dir, path string, offset int64) error {
	f, err := os.Create(filepath.Join(dir, resumeFileName))
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(path + "\n" + strconv.FormatInt(offset, 10) + "\n"); err != nil {
		return err
	}
	return f.Sync()
}

// ClearResumePointer truncates last.txt to empty, signaling no resume
// is needed on the next startup.
func ClearResumePointer(dir string) error {
	f, err := os.Create(filepath.Join(dir, resumeFileName))
	if err != nil {
		return err
	}
	return f.Close()
}
