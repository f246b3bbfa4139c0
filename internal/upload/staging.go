package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// stagedName matches the queue naming scheme NNN.kind[.ext]. The numeric
// prefix fixes the aggregation order of the final PDF.
var stagedName = regexp.MustCompile(`^(\d{3})\.(cover|document|code|image)(\.[A-Za-z0-9]+)?$`)

// StagedFile is one queued file awaiting conversion.
type StagedFile struct {
	Index int
	Kind  Kind
	Name  string
	Path  string
}

// ParseStagedName splits a queue file name into its index and kind.
func ParseStagedName(name string) (int, Kind, bool) {
	m := stagedName.FindStringSubmatch(name)
	if m == nil {
		return 0, "", false
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return idx, Kind(m[2]), true
}

// StagedName builds a queue file name for the given slot.
func StagedName(index int, kind Kind, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%03d.%s%s", index, kind, ext)
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Sanitize strips anything that could escape a path segment. Identifiers
// coming from requests must pass through here before touching the
// filesystem.
func Sanitize(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}

// Workdir lays out the staging area for submission processing. Files move
// new -> in_process -> done; the done tree is grouped per unit and student
// so an entire offering can be archived in one sweep.
type Workdir struct {
	root string
}

func NewWorkdir(root string) (*Workdir, error) {
	if err := os.MkdirAll(filepath.Join(root, "new"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "in_process"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	return &Workdir{root: root}, nil
}

func (w *Workdir) Root() string {
	return w.root
}

// NewDir is where freshly validated uploads for a task land.
func (w *Workdir) NewDir(taskID string) string {
	return filepath.Join(w.root, "new", Sanitize(taskID))
}

// InProcessDir holds a task's files while the pipeline owns them.
func (w *Workdir) InProcessDir(taskID string) string {
	return filepath.Join(w.root, "in_process", Sanitize(taskID))
}

func (w *Workdir) unitStudentDir(unitCode, unitID, username string) string {
	return filepath.Join(w.root, fmt.Sprintf("%s-%s", Sanitize(unitCode), Sanitize(unitID)), Sanitize(username))
}

// DoneDir is the archive location for a task's processed sources.
func (w *Workdir) DoneDir(unitCode, unitID, username, taskID string) string {
	return filepath.Join(w.unitStudentDir(unitCode, unitID, username), "done", Sanitize(taskID))
}

// EvidencePath is where a task's aggregated submission PDF lives.
func (w *Workdir) EvidencePath(unitCode, unitID, username, taskID string) string {
	return filepath.Join(w.unitStudentDir(unitCode, unitID, username), Sanitize(taskID)+".pdf")
}

// PortfolioPath is where a student's compiled portfolio lives.
func (w *Workdir) PortfolioPath(unitCode, unitID, username string) string {
	return filepath.Join(w.root, "portfolio", fmt.Sprintf("%s-%s", Sanitize(unitCode), Sanitize(unitID)), Sanitize(username), "portfolio.pdf")
}

// ListStaged returns the queue files in a directory sorted by index.
// Anything not matching the naming scheme is ignored.
func ListStaged(dir string) ([]StagedFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read staging dir: %w", err)
	}

	var files []StagedFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		idx, kind, ok := ParseStagedName(e.Name())
		if !ok {
			continue
		}
		files = append(files, StagedFile{
			Index: idx,
			Kind:  kind,
			Name:  e.Name(),
			Path:  filepath.Join(dir, e.Name()),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Index < files[j].Index
	})
	return files, nil
}

// MoveDir moves every file in from into to, then removes from. Rename is
// tried first; a copy fallback covers staging areas that straddle
// filesystems.
func MoveDir(from, to string) error {
	if err := os.MkdirAll(to, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", to, err)
	}
	entries, err := os.ReadDir(from)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", from, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		src := filepath.Join(from, e.Name())
		dst := filepath.Join(to, e.Name())
		if err := os.Rename(src, dst); err != nil {
			if err := copyFile(src, dst); err != nil {
				return err
			}
			if err := os.Remove(src); err != nil {
				return fmt.Errorf("failed to remove %s: %w", src, err)
			}
		}
	}
	if err := os.Remove(from); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", from, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
