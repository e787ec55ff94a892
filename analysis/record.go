package analysis

import "time"

// FileStats carries the filesystem numbers detectors compare against.
// Created is the best available creation time; CreatedSource names where it
// came from (birth time, or a ctime fallback).
type FileStats struct {
	Size          int64
	Modified      time.Time
	Created       time.Time
	Accessed      time.Time
	CreatedSource string
}

// FileRecord is the result of inspecting one file: its metadata tree plus
// the stats snapshot taken when processing started. Stats is nil when the
// initial stat call failed. The digest maps are populated only when the
// batch was configured to hash content.
type FileRecord struct {
	Path        string
	Name        string
	Tree        *Tree
	Stats       *FileStats
	Digests     map[string]string
	FuzzyHashes map[string]string
}

// BatchResult is the aggregate outcome of one batch run. Records is in
// input order; the finding streams are in discovery order.
type BatchResult struct {
	Records       []*FileRecord
	Anomalies     []string
	LogicalIssues []string
}
