package notes

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/noelzubin/notes_vault/search"
	"github.com/samber/lo"
)

// FileInfo contains the path and the last modified time of a file.
type FileInfo struct {
	Path    string // Path to the file
	ModTime int64  // Last modified time, unix milliseconds
}

func (fi FileInfo) stamp() search.ItemStamp {
	return search.ItemStamp{ID: fi.Path, UpdatedAt: fi.ModTime}
}

// getFileInfoForFile returns the FileInfo for the given file
func getFileInfoForFile(path string) (FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{Path: path, ModTime: info.ModTime().UnixMilli()}, nil
}

// listFiles returns the files under root with one of the given extensions.
func listFiles(root string, extensions []string) []FileInfo {
	paths := glob(root, func(path string, d fs.DirEntry) bool {
		return !d.IsDir() && lo.Contains(extensions, strings.ToLower(filepath.Ext(path)))
	})
	return lo.FilterMap(paths, func(path string, _ int) (FileInfo, bool) {
		fi, err := getFileInfoForFile(path)
		return fi, err == nil
	})
}

// Custom glob function because inbuilt function doesn't support recursive
// globbing correctly. Hidden directories are skipped.
func glob(root string, fn func(string, fs.DirEntry) bool) []string {
	var matches []string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if fn(path, d) {
			matches = append(matches, path)
		}
		return nil
	})
	return matches
}

// readDocument loads a note. Its title is the first markdown heading, or the
// file name when there is none.
func readDocument(fi FileInfo) (search.Document, error) {
	body, err := os.ReadFile(fi.Path)
	if err != nil {
		return search.Document{}, err
	}
	content := string(body)
	return search.Document{
		ID:        fi.Path,
		UpdatedAt: fi.ModTime,
		Title:     noteTitle(fi.Path, content),
		Content:   content,
	}, nil
}

func noteTitle(path, content string) string {
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if title := strings.TrimSpace(strings.TrimLeft(line, "#")); title != "" {
				return title
			}
		}
		break
	}
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
