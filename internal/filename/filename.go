// Package filename decodes the fixed positional naming convention the
// extract feed uses — <PerOrgID><PracticeID><ExtractType><DateFrom><DateTo>
// <DateExtracted>.csv — into structured metadata, without touching the
// object store or the registry.
package filename

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout = "200601021504" // YYYYMMDDHHMM
	dateWidth  = 12
	csvSuffix  = ".csv"

	// defaultPerOrgIDWidth and defaultPracticeIDWidth are the fixed field
	// widths for the two leading identifier fields. The feed documents
	// these per deployment; Config.PerOrgIDWidth/PracticeIDWidth let an
	// operator override them without a code change.
	defaultPerOrgIDWidth   = 4
	defaultPracticeIDWidth = 6

	// fullLoadDateFromSentinel is the date-from value the feed emits on a
	// full load rather than a delta. Configurable via
	// Config.FullLoadSentinel for feeds that use a different sentinel.
	fullLoadDateFromSentinel = "000000000000"
)

// ErrUnrecognizedExtractType is returned when the middle segment of a
// filename does not match any known extract type or alias.
var ErrUnrecognizedExtractType = errors.New("filename: unrecognized extract type")

// ErrMalformedFilename is returned when a key is too short to contain the
// three trailing date fields and the leading id fields.
var ErrMalformedFilename = errors.New("filename: malformed name")

// ErrInvalidDateOrder is returned when date-from > date-to or date-to >
// date-extracted.
var ErrInvalidDateOrder = errors.New("filename: date-from/date-to/date-extracted out of order")

// ExtractType is the recognized logical category of a feed file.
type ExtractType string

// Recognized extract types. Patients, Providers, and Appointments are the
// three priority extracts named by the specification; the remainder
// supplement them with the other extract types a practice-management
// extract feed commonly emits.
const (
	ExtractPatients      ExtractType = "Patients"
	ExtractProviders     ExtractType = "Providers"
	ExtractAppointments  ExtractType = "Appointments"
	ExtractImmunisations ExtractType = "Immunisations"
	ExtractAllergies     ExtractType = "Allergies"
	ExtractMedications   ExtractType = "Medications"
	ExtractObservations  ExtractType = "Observations"
	ExtractEncounters    ExtractType = "Encounters"
)

// aliases maps every accepted spelling (singular and plural, as the feed is
// inconsistent between extract types) to its canonical ExtractType. The middle
// segment must equal an alias exactly (case-sensitive), so "Immunisation" and
// "Immunisations" each resolve through their own entry.
var aliases = map[string]ExtractType{
	"Patients":      ExtractPatients,
	"Patient":       ExtractPatients,
	"Providers":     ExtractProviders,
	"Provider":      ExtractProviders,
	"Appointments":  ExtractAppointments,
	"Appointment":   ExtractAppointments,
	"Immunisations": ExtractImmunisations,
	"Immunisation":  ExtractImmunisations,
	"Allergies":     ExtractAllergies,
	"Allergy":       ExtractAllergies,
	"Medications":   ExtractMedications,
	"Medication":    ExtractMedications,
	"Observations":  ExtractObservations,
	"Observation":   ExtractObservations,
	"Encounters":    ExtractEncounters,
	"Encounter":     ExtractEncounters,
}

// PriorityOrder lists extract types in the order the Batch Planner must
// process them within a batch; extracts not listed come after these and keep
// their input order.
var PriorityOrder = []ExtractType{ExtractPatients, ExtractProviders, ExtractAppointments}

// ParsedFilename is the structured metadata decoded from one object key.
type ParsedFilename struct {
	Key           string
	PerOrgID      string
	PracticeID    string
	ExtractType   ExtractType
	DateFrom      time.Time
	DateTo        time.Time
	DateExtracted time.Time
	BatchID       string
	IsFullLoad    bool
	IsDelta       bool
}

// Config controls field widths, time zone, and the full-load discriminator,
// so a feed with different widths or a different sentinel can be parsed
// without a code change.
type Config struct {
	PerOrgIDWidth    int
	PracticeIDWidth  int
	Location         *time.Location
	FullLoadSentinel string
}

// DefaultConfig matches the feed layout documented by the specification.
func DefaultConfig() Config {
	return Config{
		PerOrgIDWidth:    defaultPerOrgIDWidth,
		PracticeIDWidth:  defaultPracticeIDWidth,
		Location:         time.UTC,
		FullLoadSentinel: fullLoadDateFromSentinel,
	}
}

// Parser decodes object keys into ParsedFilename values.
type Parser struct {
	cfg Config
}

// NewParser builds a Parser from cfg, filling zero-value fields with
// DefaultConfig's values so callers only need to override what differs.
func NewParser(cfg Config) *Parser {
	def := DefaultConfig()
	if cfg.PerOrgIDWidth == 0 {
		cfg.PerOrgIDWidth = def.PerOrgIDWidth
	}

	if cfg.PracticeIDWidth == 0 {
		cfg.PracticeIDWidth = def.PracticeIDWidth
	}

	if cfg.Location == nil {
		cfg.Location = def.Location
	}

	if cfg.FullLoadSentinel == "" {
		cfg.FullLoadSentinel = def.FullLoadSentinel
	}

	return &Parser{cfg: cfg}
}

// Parse decodes key. Parse failure is always recoverable — Discovery emits a
// warning and skips the file rather than aborting the run.
func (p *Parser) Parse(key string) (ParsedFilename, error) {
	base := basename(key)
	base = strings.TrimSuffix(base, csvSuffix)

	minLen := p.cfg.PerOrgIDWidth + p.cfg.PracticeIDWidth + 3*dateWidth + 1
	if len(base) < minLen {
		return ParsedFilename{}, fmt.Errorf("%w: %q shorter than %d characters", ErrMalformedFilename, key, minLen)
	}

	perOrgID := base[:p.cfg.PerOrgIDWidth]
	rest := base[p.cfg.PerOrgIDWidth:]

	practiceID := rest[:p.cfg.PracticeIDWidth]
	rest = rest[p.cfg.PracticeIDWidth:]

	dateFromStart := len(rest) - 3*dateWidth
	extractSegment := rest[:dateFromStart]

	extractType, ok := resolveExtractType(extractSegment)
	if !ok {
		return ParsedFilename{}, fmt.Errorf("%w: %q in %q", ErrUnrecognizedExtractType, extractSegment, key)
	}

	dateFromStr := rest[dateFromStart : dateFromStart+dateWidth]
	dateToStr := rest[dateFromStart+dateWidth : dateFromStart+2*dateWidth]
	dateExtractedStr := rest[dateFromStart+2*dateWidth:]

	isFullLoad := dateFromStr == p.cfg.FullLoadSentinel

	// The full-load sentinel is not a valid date; DateFrom stays zero for it.
	var dateFrom time.Time
	if !isFullLoad {
		parsedFrom, err := time.ParseInLocation(dateLayout, dateFromStr, p.cfg.Location)
		if err != nil {
			return ParsedFilename{}, fmt.Errorf("%w: date-from %q: %w", ErrMalformedFilename, dateFromStr, err)
		}

		dateFrom = parsedFrom
	}

	dateTo, err := time.ParseInLocation(dateLayout, dateToStr, p.cfg.Location)
	if err != nil {
		return ParsedFilename{}, fmt.Errorf("%w: date-to %q: %w", ErrMalformedFilename, dateToStr, err)
	}

	dateExtracted, err := time.ParseInLocation(dateLayout, dateExtractedStr, p.cfg.Location)
	if err != nil {
		return ParsedFilename{}, fmt.Errorf("%w: date-extracted %q: %w", ErrMalformedFilename, dateExtractedStr, err)
	}

	if dateFrom.After(dateTo) || dateTo.After(dateExtracted) {
		return ParsedFilename{}, fmt.Errorf("%w: %q", ErrInvalidDateOrder, key)
	}

	return ParsedFilename{
		Key:           key,
		PerOrgID:      perOrgID,
		PracticeID:    practiceID,
		ExtractType:   extractType,
		DateFrom:      dateFrom,
		DateTo:        dateTo,
		DateExtracted: dateExtracted,
		BatchID:       dateExtracted.In(p.cfg.Location).Format("0601021504"),
		IsFullLoad:    isFullLoad,
		IsDelta:       !isFullLoad,
	}, nil
}

// resolveExtractType returns the canonical type of the alias that segment
// equals exactly; a segment with extra characters around an alias does not
// match.
func resolveExtractType(segment string) (ExtractType, bool) {
	var (
		best    ExtractType
		bestLen int
		matched bool
	)

	for alias, canonical := range aliases {
		if segment == alias && len(alias) > bestLen {
			best = canonical
			bestLen = len(alias)
			matched = true
		}
	}

	return best, matched
}

// basename strips any directory prefix from key.
func basename(key string) string {
	if idx := strings.LastIndexByte(key, '/'); idx >= 0 {
		return key[idx+1:]
	}

	return key
}

// Priority reports the processing priority of et: lower sorts first. Extract
// types outside PriorityOrder return len(PriorityOrder), sorting after every
// named priority extract.
func Priority(et ExtractType) int {
	for i, p := range PriorityOrder {
		if p == et {
			return i
		}
	}

	return len(PriorityOrder)
}
