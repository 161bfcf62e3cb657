package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gitsnap/pkg/github"
)

// Suffix is appended to the archive path to name its sidecar file
const Suffix = ".json"

// ArchiveMetadata describes where an archive came from
type ArchiveMetadata struct {
	// Repository identifiers
	Owner    string `json:"owner"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	HTMLURL  string `json:"html_url,omitempty"`

	// Snapshot
	Branch        string `json:"branch"`
	DefaultBranch string `json:"default_branch,omitempty"`
	ArchiveURL    string `json:"archive_url"`
	FileSize      int64  `json:"file_size"`
	Entries       int    `json:"entries,omitempty"`

	// Timestamps
	PushedAt     time.Time `json:"pushed_at,omitempty"`
	DownloadedAt time.Time `json:"downloaded_at"`

	// Listing details
	Description string `json:"description,omitempty"`
	Fork        bool   `json:"fork"`
	Archived    bool   `json:"archived"`
}

// FromRepository builds the metadata of a freshly written archive
func FromRepository(repo github.Repository, branch, archiveURL string, size int64, entries int) *ArchiveMetadata {
	fullName := repo.FullName
	if fullName == "" {
		fullName = repo.Owner + "/" + repo.Name
	}
	return &ArchiveMetadata{
		Owner:         repo.Owner,
		Name:          repo.Name,
		FullName:      fullName,
		HTMLURL:       repo.HTMLURL,
		Branch:        branch,
		DefaultBranch: repo.DefaultBranch,
		ArchiveURL:    archiveURL,
		FileSize:      size,
		Entries:       entries,
		PushedAt:      repo.PushedAt,
		DownloadedAt:  time.Now().UTC(),
		Description:   repo.Description,
		Fork:          repo.Fork,
		Archived:      repo.Archived,
	}
}

// Save writes the metadata next to the archive
func (m *ArchiveMetadata) Save(archivePath string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tmp := archivePath + Suffix + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	if err := os.Rename(tmp, archivePath+Suffix); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// Load reads the metadata of an archive
func Load(archivePath string) (*ArchiveMetadata, error) {
	data, err := os.ReadFile(archivePath + Suffix)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}

	var meta ArchiveMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &meta, nil
}

// Exists checks if a metadata file exists for an archive
func Exists(archivePath string) bool {
	_, err := os.Stat(archivePath + Suffix)
	return err == nil
}

// CleanOrphaned removes sidecar files whose archive is gone and returns
// their paths
func CleanOrphaned(directory string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(directory, "*.zip"+Suffix))
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, path := range matches {
		archivePath := strings.TrimSuffix(path, Suffix)
		if _, err := os.Stat(archivePath); !os.IsNotExist(err) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("failed to remove orphaned metadata %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}
