package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrVideoNotFound   = errors.New("video not found")
)

// Video is one registered video inside a project manifest. Older manifests
// use "id" where newer ones use "video_id"; both are accepted.
type Video struct {
	ID          string `json:"id,omitempty"`
	VideoID     string `json:"video_id,omitempty"`
	Filename    string `json:"filename"`
	Path        string `json:"path"`
	TotalFrames int    `json:"total_frames,omitempty"`
	FrameCount  int    `json:"frame_count,omitempty"`
	Status      string `json:"status,omitempty"`
}

// Ident returns the video's identifier regardless of manifest vintage.
func (v *Video) Ident() string {
	if v.ID != "" {
		return v.ID
	}
	return v.VideoID
}

// Frames returns the known frame count regardless of manifest vintage.
func (v *Video) Frames() int {
	if v.TotalFrames > 0 {
		return v.TotalFrames
	}
	return v.FrameCount
}

// Project is a loaded project manifest. Dir is where the manifest was found
// and anchors relative video paths.
type Project struct {
	ID      string   `json:"project_id"`
	Name    string   `json:"name"`
	Classes []string `json:"classes"`
	Videos  []Video  `json:"videos"`

	Dir string `json:"-"`
}

// VideoPath resolves a video's path against the project directory.
func (p *Project) VideoPath(v *Video) string {
	if filepath.IsAbs(v.Path) {
		return v.Path
	}
	return filepath.Join(p.Dir, v.Path)
}

const manifestName = "project.json"

// Store resolves project manifests under a root directory. Manifests live
// either directly at <root>/<project_id>/ or one level deeper under
// per-owner directories; the store only ever reads them.
type Store struct {
	root string
}

// NewStore creates a project store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Load reads the manifest for a project, searching owner subdirectories
// when the project is not found at the root level.
func (s *Store) Load(projectID string) (*Project, error) {
	dir := filepath.Join(s.root, projectID)
	if p, err := loadManifest(dir); err == nil {
		return p, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, ErrProjectNotFound
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(s.root, e.Name(), projectID)
		p, err := loadManifest(candidate)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return nil, ErrProjectNotFound
}

// FindVideo loads a project and locates one of its videos by id.
func (s *Store) FindVideo(projectID, videoID string) (*Project, *Video, error) {
	p, err := s.Load(projectID)
	if err != nil {
		return nil, nil, err
	}
	v, err := p.FindVideo(videoID)
	if err != nil {
		return nil, nil, err
	}
	return p, v, nil
}

// FindVideo locates a video in the loaded manifest by id.
func (p *Project) FindVideo(videoID string) (*Video, error) {
	for i := range p.Videos {
		if p.Videos[i].Ident() == videoID {
			return &p.Videos[i], nil
		}
	}
	return nil, ErrVideoNotFound
}

// LoadDir reads the manifest found directly in dir.
func LoadDir(dir string) (*Project, error) {
	p, err := loadManifest(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrProjectNotFound
	}
	return p, err
}

func loadManifest(dir string) (*Project, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, err
	}
	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse project manifest in %s: %w", dir, err)
	}
	p.Dir = dir
	return &p, nil
}
