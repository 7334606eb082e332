// Package batch groups discovered files into per-batch-id processing units
// and orders both batches and the extracts within them so the orchestrator
// can execute a deterministic plan.
package batch

import (
	"fmt"
	"sort"

	"github.com/healthlake-io/ingestlake/internal/discovery"
	"github.com/healthlake-io/ingestlake/internal/filename"
)

// Mode selects batch ordering: Backfill processes oldest batches first,
// Latest processes newest first.
type Mode string

const (
	ModeBackfill Mode = "backfill"
	ModeLatest   Mode = "latest"
)

// FileBatch is every discovered file sharing one batch id (one delivery
// cycle / date-extracted value).
type FileBatch struct {
	BatchID       string
	DateExtracted string
	Files         []discovery.DiscoveredFile
	ExtractTypes  map[filename.ExtractType]bool
	TotalBytes    int64
	Complete      bool
}

// ProcessingPlan is the ordered output of Plan: batches in execution order,
// and a flattened processing order across all batches honoring extract
// priority within each.
type ProcessingPlan struct {
	Batches         []FileBatch
	ProcessingOrder []discovery.DiscoveredFile
	Warnings        []string
}

// Options controls Plan's ordering and completeness checks.
type Options struct {
	Mode             Mode
	RequiredExtracts []filename.ExtractType // batches missing one of these produce a warning.
}

// Plan groups files by BatchID, orders batches per opts.Mode, and within
// each batch orders files by extract-type priority (Patients, Providers,
// Appointments first, per filename.PriorityOrder), preserving file order
// within a priority level as discovered.
func Plan(files []discovery.DiscoveredFile, opts Options) (ProcessingPlan, error) {
	grouped := make(map[string]*FileBatch)

	var order []string

	seenIdentity := make(map[string]string) // (version,hash) -> key, for duplicate-pair detection.

	var warnings []string

	for _, f := range files {
		id := f.Parsed.BatchID

		b, ok := grouped[id]
		if !ok {
			b = &FileBatch{
				BatchID:       id,
				DateExtracted: f.Parsed.DateExtracted.Format("2006-01-02T15:04:05Z07:00"),
				ExtractTypes:  make(map[filename.ExtractType]bool),
			}
			grouped[id] = b
			order = append(order, id)
		}

		pairKey := f.Meta.VersionID + "|" + f.Meta.Checksum
		if existingKey, dup := seenIdentity[pairKey]; dup && f.Meta.VersionID != "" {
			warnings = append(warnings, fmt.Sprintf(
				"batch %s: duplicate (version-id, hash) pair between %s and %s", id, existingKey, f.Meta.Key))
		} else {
			seenIdentity[pairKey] = f.Meta.Key
		}

		b.Files = append(b.Files, f)
		b.ExtractTypes[f.Parsed.ExtractType] = true
		b.TotalBytes += f.Meta.Size
	}

	if len(grouped) == 0 {
		return ProcessingPlan{Warnings: []string{"no files to plan: empty discovery result"}}, nil
	}

	for _, id := range order {
		b := grouped[id]

		sort.SliceStable(b.Files, func(i, j int) bool {
			return filename.Priority(b.Files[i].Parsed.ExtractType) < filename.Priority(b.Files[j].Parsed.ExtractType)
		})

		b.Complete = hasAllRequired(b.ExtractTypes, opts.RequiredExtracts)
		if !b.Complete && len(opts.RequiredExtracts) > 0 {
			warnings = append(warnings, fmt.Sprintf("batch %s: missing a required priority extract type", id))
		}
	}

	batches := make([]FileBatch, 0, len(order))
	for _, id := range order {
		batches = append(batches, *grouped[id])
	}

	sort.SliceStable(batches, func(i, j int) bool {
		if opts.Mode == ModeLatest {
			return batches[i].BatchID > batches[j].BatchID
		}

		return batches[i].BatchID < batches[j].BatchID
	})

	var processingOrder []discovery.DiscoveredFile
	for _, b := range batches {
		processingOrder = append(processingOrder, b.Files...)
	}

	return ProcessingPlan{Batches: batches, ProcessingOrder: processingOrder, Warnings: warnings}, nil
}

// hasAllRequired reports whether present contains every extract type in
// required. An empty required list is trivially satisfied.
func hasAllRequired(present map[filename.ExtractType]bool, required []filename.ExtractType) bool {
	for _, et := range required {
		if !present[et] {
			return false
		}
	}

	return true
}
