// Package discovery enumerates candidate extract files from the object
// store, filters and parses them, and computes the identity each file is
// later deduplicated on. Discovery is read-only: it never touches the Run
// Registry.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/healthlake-io/ingestlake/internal/filename"
	"github.com/healthlake-io/ingestlake/internal/identity"
	"github.com/healthlake-io/ingestlake/internal/ingesterr"
	"github.com/healthlake-io/ingestlake/internal/objectstore"
)

const csvSuffix = ".csv"

// DiscoveredFile pairs a parsed filename with its object metadata and the
// identity hash the Raw Loader's idempotency gate is keyed on.
type DiscoveredFile struct {
	Parsed          filename.ParsedFilename
	Meta            objectstore.ObjectMeta
	IdentityHash    string
	FastFingerprint uint64
}

// Warning is a recoverable discovery-time problem: a file was skipped, but
// the run continues.
type Warning struct {
	Key    string
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Key, w.Reason)
}

// Options controls which objects Discovery considers.
type Options struct {
	Prefix         string
	PathGlob       string // e.g. "**/*.csv"; empty means no additional glob filter.
	ExtractTypes   []filename.ExtractType
	MaxFiles       int
	FilenameParser *filename.Parser
}

// Discover lists every object under opts.Prefix, filters directory markers
// and non-CSV keys, applies the optional path glob and extract-type filter,
// parses each surviving key, and computes its identity hash. Parse and glob
// failures are reported as warnings and the file is skipped; only adapter
// errors (listing failure) abort the call.
func Discover(ctx context.Context, adapter objectstore.Adapter, opts Options) ([]DiscoveredFile, []Warning, error) {
	parser := opts.FilenameParser
	if parser == nil {
		parser = filename.NewParser(filename.DefaultConfig())
	}

	objects, err := adapter.List(ctx, opts.Prefix)
	if err != nil {
		return nil, nil, ingesterr.New(ingesterr.KindObjectStoreTransient, "discovery.Discover", err)
	}

	wanted := make(map[filename.ExtractType]bool, len(opts.ExtractTypes))
	for _, et := range opts.ExtractTypes {
		wanted[et] = true
	}

	var (
		files    []DiscoveredFile
		warnings []Warning
	)

	for _, meta := range objects {
		if opts.MaxFiles > 0 && len(files) >= opts.MaxFiles {
			break
		}

		if strings.HasSuffix(meta.Key, "/") {
			continue // directory marker, not a data object.
		}

		if !strings.EqualFold(suffixOf(meta.Key), csvSuffix) {
			continue
		}

		if opts.PathGlob != "" {
			match, err := doublestar.Match(opts.PathGlob, meta.Key)
			if err != nil || !match {
				warnings = append(warnings, Warning{Key: meta.Key, Reason: "did not match path glob"})

				continue
			}
		}

		parsed, err := parser.Parse(meta.Key)
		if err != nil {
			slog.Warn("discovery: skipping unparsable key",
				slog.String("key", meta.Key), slog.String("error", err.Error()))

			warnings = append(warnings, Warning{Key: meta.Key, Reason: err.Error()})

			continue
		}

		if len(wanted) > 0 && !wanted[parsed.ExtractType] {
			continue
		}

		idHash := identity.ObjectIdentity(meta.Key, meta.Size, meta.ETag, meta.LastModified)
		fastHash := identity.FastFingerprint(meta.Key, meta.Size, meta.ETag)

		files = append(files, DiscoveredFile{
			Parsed:          parsed,
			Meta:            meta,
			IdentityHash:    idHash,
			FastFingerprint: fastHash,
		})
	}

	return dedupeByFastFingerprint(files, &warnings), warnings, nil
}

// dedupeByFastFingerprint drops later entries sharing both a fast
// fingerprint and the durable identity hash with an earlier entry — a cheap
// pre-filter ahead of the Batch Planner's duplicate-pair warning. It never
// substitutes for the registry's idempotency key, which remains the durable
// source of truth.
func dedupeByFastFingerprint(files []DiscoveredFile, warnings *[]Warning) []DiscoveredFile {
	seen := make(map[uint64]DiscoveredFile, len(files))
	out := make([]DiscoveredFile, 0, len(files))

	for _, f := range files {
		if existing, ok := seen[f.FastFingerprint]; ok && existing.IdentityHash == f.IdentityHash {
			*warnings = append(*warnings, Warning{
				Key:    f.Meta.Key,
				Reason: fmt.Sprintf("duplicate of %s (fast fingerprint collision)", existing.Meta.Key),
			})

			continue
		}

		seen[f.FastFingerprint] = f
		out = append(out, f)
	}

	return out
}

// suffixOf returns the extension of key, including the leading dot.
func suffixOf(key string) string {
	idx := strings.LastIndexByte(key, '.')
	if idx < 0 {
		return ""
	}

	return key[idx:]
}
