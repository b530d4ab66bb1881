package scraper

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Checkpoint is the persisted state of an interrupted ingestion run. Resume
// only makes sense for the same query, so the query is stored alongside the
// offset.
type Checkpoint struct {
	LastOffset int       `json:"last_offset"`
	Query      string    `json:"query"`
	StartedAt  time.Time `json:"started_at"`
	SavedAt    time.Time `json:"saved_at"`
	Stats      struct {
		Processed int `json:"processed"`
		Failed    int `json:"failed"`
		Skipped   int `json:"skipped"`
	} `json:"stats"`
}

// CheckpointManager handles saving and loading pipeline state
type CheckpointManager struct {
	filePath string
}

func NewCheckpointManager(filePath string) *CheckpointManager {
	return &CheckpointManager{filePath: filePath}
}

func (c *CheckpointManager) Save(lastOffset int, query string, progress *ProgressTracker) error {
	snapshot := progress.GetSnapshot()

	checkpoint := Checkpoint{
		LastOffset: lastOffset,
		Query:      query,
		StartedAt:  snapshot.StartedAt,
		SavedAt:    time.Now(),
	}
	checkpoint.Stats.Processed = snapshot.Processed
	checkpoint.Stats.Failed = snapshot.Failed
	checkpoint.Stats.Skipped = snapshot.Skipped

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := os.WriteFile(c.filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	return nil
}

// Load returns the saved checkpoint, or nil when none exists
func (c *CheckpointManager) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(c.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

func (c *CheckpointManager) Delete() error {
	if err := os.Remove(c.filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint file: %w", err)
	}
	return nil
}

func (c *CheckpointManager) Exists() bool {
	_, err := os.Stat(c.filePath)
	return err == nil
}
