package common

import (
	"fmt"
	"log"

	"github.com/fatih/color"
)

// Global variable to control debug output
var VerboseMode bool = false

// SetVerboseMode enables or disables verbose/debug output
func SetVerboseMode(verbose bool) {
	VerboseMode = verbose
}

// SetColorMode enables or disables coloured level tags and summaries
func SetColorMode(enabled bool) {
	color.NoColor = !enabled
}

var (
	infoTag  = color.New(color.FgGreen).SprintFunc()
	warnTag  = color.New(color.FgYellow, color.Bold).SprintFunc()
	errorTag = color.New(color.FgRed, color.Bold).SprintFunc()
	debugTag = color.New(color.FgCyan).SprintFunc()
)

// Error messages
const (
	ErrFailedToReadImage     = "failed to read disc image"
	ErrFailedToWriteImage    = "failed to write disc image"
	ErrFailedToReadConfig    = "failed to read configuration"
	ErrFailedToParseConfig   = "failed to parse configuration"
	ErrFailedToLoadDirectory = "failed to load ISO9660 directory"
	ErrFailedToExtract       = "failed to extract payload"
	ErrFailedToInject        = "failed to inject payload"
	ErrFailedToApplyStage    = "failed to apply patch stage"
	ErrFailedToWriteReport   = "failed to write run report"
)

// Info messages
const (
	InfoImageLoaded       = "Loaded %s: %d bytes, %d sectors (%s)"
	InfoPayloadExtracted  = "Extracted payload %q: %d bytes from LBA %d"
	InfoPayloadInjected   = "Injected payload %q: %d sectors at LBA %v"
	InfoPayloadUnchanged  = "Payload %q unchanged, not re-injected"
	InfoStageStart        = "Stage %d/%d [%s] %s -> %s"
	InfoStageSkipped      = "Stage %d/%d [%s] disabled, skipping"
	InfoSectionSkipped    = "Section %q disabled, skipping"
	InfoStageNoop         = "Stage %q: no-op (every target already patched)"
	InfoStageSummary      = "Stage %q: %d applied, %d skipped, %d warned, %d failed"
	InfoAlreadyPatched    = "%s at 0x%X: already patched"
	InfoPatchApplied      = "%s at 0x%X: 0x%X -> 0x%X"
	InfoEntityPatched     = "%s: patched %d occurrence(s)"
	InfoSearchPatched     = "%s: %d occurrence(s) rewritten, %d already patched"
	InfoRecordPatched     = "%s: record %d at 0x%X rewritten"
	InfoEDCRegenerated    = "Regenerated EDC/ECC for %d sector(s)"
	InfoOutputWritten     = "Wrote %s (%d bytes)"
	InfoCopiesIdentical   = "Payload %q: %d copies identical"
	InfoDirectoryResolved = "Payload %q resolved from %s: LBA %d, %d bytes"
)

// Debug messages
const (
	DebugSignatureMatches = "%s: %d signature match(es) at %v"
	DebugRegionFiltered   = "%s: %d match(es) left inside region [0x%X, 0x%X]"
	DebugEntityRejected   = "%s at 0x%X rejected: %s"
	DebugDirectoryEntry   = "Directory entry %s: LBA %d, %d bytes, dir=%v"
	DebugSectionLoaded    = "Loaded section %q from %s"
)

// Warning messages
const (
	WarnValueMismatch    = "%s at 0x%X: expected original 0x%X, found 0x%X (writing 0x%X anyway)"
	WarnSignatureSkipped = "%s at 0x%X: unexpected word 0x%08X (verify 0x%08X), skipping"
	WarnSearchExpected   = "%s: pattern byte at index %d is 0x%02X but expected_original is 0x%02X"
	WarnRecordName       = "%s: record %d at 0x%X expected name %q, found %q"
	WarnEntityNotFound   = "%s: entity %q not found"
	WarnPatternNotFound  = "%s: pattern %s not found"
	WarnReservedMismatch = "Payload %q: configured reserved_sectors %d differs from directory value %d, using %d"
	WarnLBANotConfigured = "Payload %q: directory LBA %d is not among configured LBAs %v"
	WarnCopiesDiverge    = "Payload %q: copy at LBA %d differs from LBA %d"
	WarnStageWarnings    = "Run finished with %d warning(s)"
)

// LogInfo logs an informational message
func LogInfo(message string, args ...interface{}) {
	if len(args) > 0 {
		log.Printf(infoTag("[INFO]")+" "+message, args...)
	} else {
		log.Printf("%s %s", infoTag("[INFO]"), message)
	}
}

// LogWarn logs a warning message
func LogWarn(message string, args ...interface{}) {
	if len(args) > 0 {
		log.Printf(warnTag("[WARN]")+" "+message, args...)
	} else {
		log.Printf("%s %s", warnTag("[WARN]"), message)
	}
}

// LogError logs an error message
func LogError(message string, args ...interface{}) {
	if len(args) > 0 {
		log.Printf(errorTag("[ERROR]")+" "+message, args...)
	} else {
		log.Printf("%s %s", errorTag("[ERROR]"), message)
	}
}

// LogDebug logs a debug message (only if VerboseMode is enabled)
func LogDebug(message string, args ...interface{}) {
	if !VerboseMode {
		return
	}
	if len(args) > 0 {
		log.Printf(debugTag("[DEBUG]")+" "+message, args...)
	} else {
		log.Printf("%s %s", debugTag("[DEBUG]"), message)
	}
}

// FormatError creates a formatted error with additional context
func FormatError(baseMessage string, details interface{}) error {
	if err, ok := details.(error); ok {
		return fmt.Errorf("%s: %w", baseMessage, err)
	}
	return fmt.Errorf("%s: %v", baseMessage, details)
}
