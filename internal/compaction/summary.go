// Package compaction merges small raw partition files into single block
// files to keep read fan-out bounded.
package compaction

import "github.com/cedricziel/errata/pkg/types"

// Filters optionally narrow a compaction run. Set fields are AND-combined;
// an empty field matches all values.
type Filters struct {
	OrganizationID string
	ProjectID      string
	EventType      types.EventType
	Date           string // YYYY-MM-DD
}

// Candidate is one partition eligible for compaction: its directory path and
// the files to merge (every raw file plus any existing block file, so the
// output is a single block).
type Candidate struct {
	Path  string
	Files []string
}

// CompactionResult is the outcome for a single partition. A failed partition
// leaves its original files untouched.
type CompactionResult struct {
	Success       bool     `json:"success"`
	PartitionPath string   `json:"partition_path"`
	OutputFiles   []string `json:"output_files,omitempty"`
	FilesRemoved  int      `json:"files_removed"`
	EventsCount   int64    `json:"events_count"`
	Error         string   `json:"error,omitempty"`
}

// CompactionSummary aggregates a whole compaction run. Partial failure is
// expected: failed partitions are counted in Errors and never abort the run.
type CompactionSummary struct {
	PartitionsFound     int                `json:"partitions_found"`
	PartitionsCompacted int                `json:"partitions_compacted"`
	BlocksCreated       int                `json:"blocks_created"`
	FilesRemoved        int                `json:"files_removed"`
	TotalEvents         int64              `json:"total_events"`
	Errors              int                `json:"errors"`
	DryRun              bool               `json:"dry_run,omitempty"`
	Results             []CompactionResult `json:"results,omitempty"`
}

// IsEmpty reports whether no partitions matched the run's filters.
func (s *CompactionSummary) IsEmpty() bool {
	return s.PartitionsFound == 0
}

// HasErrors reports whether any partition failed during the run.
func (s *CompactionSummary) HasErrors() bool {
	return s.Errors > 0
}

// add folds one partition result into the summary.
func (s *CompactionSummary) add(res CompactionResult) {
	s.Results = append(s.Results, res)
	if res.Success {
		s.PartitionsCompacted++
		s.BlocksCreated += len(res.OutputFiles)
		s.FilesRemoved += res.FilesRemoved
		s.TotalEvents += res.EventsCount
	} else {
		s.Errors++
	}
}
