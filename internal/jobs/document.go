package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pipesight/inspectord/internal/inference"
)

// ResultFileName is the durable artifact written under a job's output path.
const ResultFileName = "inference_results.json"

// FrameRecord is one frame's entry in the result document.
type FrameRecord struct {
	FrameNumber int                   `json:"frame_number"`
	Classes     []int                 `json:"classes,omitempty"`
	Detections  []inference.Detection `json:"detections"`
}

// ResultDocument is the durable artifact of a completed job. Written once
// at completion, never partially flushed: a crash mid-job leaves no
// document behind.
type ResultDocument struct {
	VideoPath   string        `json:"video_path"`
	TotalFrames int           `json:"total_frames"`
	FPS         float64       `json:"fps"`
	Width       int           `json:"width"`
	Height      int           `json:"height"`
	ModelType   string        `json:"model_type"`
	Results     []FrameRecord `json:"results"`
}

// Write persists the document compactly and atomically under dir.
func (d *ResultDocument) Write(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal result document: %w", err)
	}

	finalPath := filepath.Join(dir, ResultFileName)
	tmpPath := finalPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write result document: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("commit result document: %w", err)
	}
	return finalPath, nil
}

// LoadResultDocument reads a result document from a job output directory or
// a direct file path.
func LoadResultDocument(path string) (*ResultDocument, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, ResultFileName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read result document: %w", err)
	}

	var doc ResultDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse result document: %w", err)
	}
	return &doc, nil
}
