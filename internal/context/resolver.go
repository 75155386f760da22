// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/morganforge/promptdeck/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrReferenceInvalid is returned when a reference matches no known scheme.
	ErrReferenceInvalid = errors.New("invalid context reference")

	// ErrSourceNotFound is returned when the referenced path or clipboard
	// target does not exist.
	ErrSourceNotFound = errors.New("context source not found")

	// ErrAccessDenied is returned when the source exists but is unreadable.
	ErrAccessDenied = errors.New("context source access denied")

	// ErrEncodingError is returned when content cannot be decoded as text.
	ErrEncodingError = errors.New("context source is not valid text")
)

// =============================================================================
// REFERENCE GRAMMAR
// =============================================================================

// Reference prefixes are case-sensitive.
const (
	filePrefix      = "@file:"
	folderPrefix    = "@folder:"
	clipboardScheme = "@clipboard"
)

// directoryHeader is the fixed first line of a resolved directory listing.
const directoryHeader = "Directory contents:"

// clipboardURI is the pseudo source path for clipboard items.
const clipboardURI = "clipboard://"

// languageByExtension maps file extensions to detected languages.
var languageByExtension = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".ts":    "typescript",
	".jsx":   "javascript",
	".tsx":   "typescript",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".java":  "java",
	".kt":    "kotlin",
	".swift": "swift",
	".rb":    "ruby",
	".php":   "php",
	".cs":    "csharp",
	".sh":    "shell",
	".bash":  "shell",
	".zsh":   "shell",
	".sql":   "sql",
	".html":  "html",
	".css":   "css",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".xml":   "xml",
	".md":    "markdown",
	".txt":   "text",
}

// LanguageForPath returns the detected language for a file path, or ""
// when the extension is unknown.
func LanguageForPath(path string) string {
	return languageByExtension[strings.ToLower(filepath.Ext(path))]
}

// =============================================================================
// RESOLVER
// =============================================================================

// Resolver turns reference strings into context items. Resolution reads
// the source every time; there is no caching inside the resolver, so
// callers re-resolve to observe source changes.
type Resolver struct {
	// workingDir is the base for relative file and folder paths.
	workingDir string

	clipboard Clipboard
}

// NewResolver creates a resolver rooted at workingDir. An empty workingDir
// uses the process working directory. A nil clipboard falls back to the
// system clipboard.
func NewResolver(workingDir string, clipboard Clipboard) *Resolver {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	if clipboard == nil {
		clipboard = SystemClipboard{}
	}
	return &Resolver{workingDir: workingDir, clipboard: clipboard}
}

// Resolve parses a reference and reads its source into a context item.
func (r *Resolver) Resolve(reference string) (model.ContextItem, error) {
	switch {
	case strings.HasPrefix(reference, filePrefix):
		return r.resolveFile(strings.TrimPrefix(reference, filePrefix))
	case strings.HasPrefix(reference, folderPrefix):
		return r.resolveFolder(strings.TrimPrefix(reference, folderPrefix))
	case reference == clipboardScheme:
		return r.resolveClipboard()
	default:
		return model.ContextItem{}, fmt.Errorf("%w: %q", ErrReferenceInvalid, reference)
	}
}

// ExtractReferences scans free-form text for context references. Matches
// are returned in order of appearance, deduplicated.
func ExtractReferences(text string) []string {
	var (
		refs []string
		seen = map[string]bool{}
	)
	for _, token := range strings.Fields(text) {
		switch {
		case strings.HasPrefix(token, filePrefix), strings.HasPrefix(token, folderPrefix):
			token = strings.TrimRight(token, ".,;:!?")
		case token == clipboardScheme:
		default:
			continue
		}
		if !seen[token] {
			seen[token] = true
			refs = append(refs, token)
		}
	}
	return refs
}

// ResolveAll resolves every reference, stopping at the first failure.
// A failed reference is surfaced, never silently turned into an empty item.
func (r *Resolver) ResolveAll(references []string) ([]model.ContextItem, error) {
	items := make([]model.ContextItem, 0, len(references))
	for _, ref := range references {
		item, err := r.Resolve(ref)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// =============================================================================
// FILE RESOLUTION
// =============================================================================

func (r *Resolver) resolveFile(path string) (model.ContextItem, error) {
	if path == "" {
		return model.ContextItem{}, fmt.Errorf("%w: empty file path", ErrReferenceInvalid)
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(r.workingDir, abs)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return model.ContextItem{}, classifyPathError(err, abs)
	}
	if info.IsDir() {
		return model.ContextItem{}, fmt.Errorf("%w: %s is a directory, use %s", ErrReferenceInvalid, abs, folderPrefix)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return model.ContextItem{}, classifyPathError(err, abs)
	}
	content := string(data)
	if !utf8.ValidString(content) {
		return model.ContextItem{}, fmt.Errorf("%w: %s", ErrEncodingError, abs)
	}

	return model.ContextItem{
		ID:           abs,
		Kind:         model.KindFile,
		Language:     LanguageForPath(abs),
		SourcePath:   abs,
		DisplayName:  filepath.Base(abs),
		Content:      content,
		TokenCount:   EstimateTokens(content),
		LastModified: info.ModTime(),
		Metadata: model.ItemMetadata{
			FileSize:  info.Size(),
			LineCount: countLines(content),
			Language:  LanguageForPath(abs),
		},
	}, nil
}

// =============================================================================
// FOLDER RESOLUTION
// =============================================================================

// resolveFolder produces a flat one-level listing of entry names, not
// recursive file contents.
func (r *Resolver) resolveFolder(path string) (model.ContextItem, error) {
	if path == "" {
		return model.ContextItem{}, fmt.Errorf("%w: empty folder path", ErrReferenceInvalid)
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(r.workingDir, abs)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return model.ContextItem{}, classifyPathError(err, abs)
	}
	if !info.IsDir() {
		return model.ContextItem{}, fmt.Errorf("%w: %s is not a directory", ErrReferenceInvalid, abs)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return model.ContextItem{}, classifyPathError(err, abs)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	content := directoryHeader
	if len(names) > 0 {
		content += "\n" + strings.Join(names, "\n")
	}

	return model.ContextItem{
		ID:           abs,
		Kind:         model.KindDirectory,
		SourcePath:   abs,
		DisplayName:  filepath.Base(abs),
		Content:      content,
		TokenCount:   EstimateTokens(content),
		LastModified: info.ModTime(),
	}, nil
}

// =============================================================================
// CLIPBOARD RESOLUTION
// =============================================================================

func (r *Resolver) resolveClipboard() (model.ContextItem, error) {
	content, err := r.clipboard.ReadText()
	if err != nil {
		if errors.Is(err, ErrClipboardUnavailable) {
			return model.ContextItem{}, fmt.Errorf("%w: clipboard", ErrSourceNotFound)
		}
		return model.ContextItem{}, err
	}

	// An empty clipboard resolves to an empty-content item, not an error.
	// The synthetic id is stable so re-resolving replaces the previous
	// clipboard item in the store instead of stacking duplicates.
	return model.ContextItem{
		ID:           clipboardURI,
		Kind:         model.KindClipboard,
		SourcePath:   clipboardURI,
		DisplayName:  "Clipboard",
		Content:      content,
		TokenCount:   EstimateTokens(content),
		LastModified: time.Now(),
	}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// classifyPathError maps filesystem errors onto the resolver error kinds.
func classifyPathError(err error, path string) error {
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %s", ErrSourceNotFound, path)
	case os.IsPermission(err):
		return fmt.Errorf("%w: %s", ErrAccessDenied, path)
	default:
		return fmt.Errorf("%w: %s: %v", ErrSourceNotFound, path, err)
	}
}

func countLines(content string) int {
	if content == "" {
		return 0
	}
	return strings.Count(content, "\n") + 1
}
