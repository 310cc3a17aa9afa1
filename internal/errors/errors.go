// Package errors provides structured error types for dbvault
// with error codes, categories, and remediation guidance
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error codes for dbvault
// Format: DBVAULT-<CATEGORY><NUMBER>
// Categories: C=Config, P=Preflight, T=Transfer, K=Crypto, Z=Compression, R=Restore, B=Bug
const (
	// Configuration errors (user fix)
	ErrCodeInvalidConfig  ErrorCode = "DBVAULT-C001"
	ErrCodeUnknownAdapter ErrorCode = "DBVAULT-C002"
	ErrCodeUnknownConfig  ErrorCode = "DBVAULT-C003"
	ErrCodeInvalidRequest ErrorCode = "DBVAULT-C004"
	ErrCodeSecretSealed   ErrorCode = "DBVAULT-C005"

	// Preflight errors (request rejected before any work starts)
	ErrCodeVendorMismatch    ErrorCode = "DBVAULT-P001"
	ErrCodeVersionDowngrade  ErrorCode = "DBVAULT-P002"
	ErrCodeEditionMismatch   ErrorCode = "DBVAULT-P003"
	ErrCodeTargetUnreachable ErrorCode = "DBVAULT-P004"
	ErrCodeScratchSpace      ErrorCode = "DBVAULT-P005"
	ErrCodeArtifactNotFound  ErrorCode = "DBVAULT-P006"

	// Transfer errors (storage backend I/O)
	ErrCodeDownloadFailed  ErrorCode = "DBVAULT-T001"
	ErrCodeUploadFailed    ErrorCode = "DBVAULT-T002"
	ErrCodeListFailed      ErrorCode = "DBVAULT-T003"
	ErrCodeTransferTimeout ErrorCode = "DBVAULT-T004"

	// Crypto errors (key material / decryption)
	ErrCodeMissingCryptoParams ErrorCode = "DBVAULT-K001"
	ErrCodeNoCandidateKey      ErrorCode = "DBVAULT-K002"
	ErrCodeDecryptFailed       ErrorCode = "DBVAULT-K003"
	ErrCodeProfileUnreadable   ErrorCode = "DBVAULT-K004"

	// Compression errors
	ErrCodeUnsupportedCodec ErrorCode = "DBVAULT-Z001"
	ErrCodeCorruptStream    ErrorCode = "DBVAULT-Z002"

	// Restore errors (database adapter)
	ErrCodeRestoreFailed ErrorCode = "DBVAULT-R001"
	ErrCodePrepareFailed ErrorCode = "DBVAULT-R002"
	ErrCodeToolMissing   ErrorCode = "DBVAULT-R003"
	ErrCodeDumpFailed    ErrorCode = "DBVAULT-R004"

	// Internal errors (report to maintainers)
	ErrCodePanic        ErrorCode = "DBVAULT-B001"
	ErrCodeInvalidState ErrorCode = "DBVAULT-B002"
)

// Category represents error categories
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryPreflight     Category = "preflight"
	CategoryTransfer      Category = "transfer"
	CategoryCrypto        Category = "crypto"
	CategoryCompression   Category = "compression"
	CategoryRestore       Category = "restore"
	CategoryInternal      Category = "internal"
)

// RestoreError is a structured error with code, category, and remediation
type RestoreError struct {
	Code        ErrorCode
	Category    Category
	Message     string
	Details     string
	Remediation string
	Cause       error
	DocsURL     string
}

// Error implements error interface
func (e *RestoreError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += fmt.Sprintf("\n\nDetails:\n  %s", e.Details)
	}
	if e.Remediation != "" {
		msg += fmt.Sprintf("\n\nTo fix:\n  %s", e.Remediation)
	}
	if e.DocsURL != "" {
		msg += fmt.Sprintf("\n\nDocs: %s", e.DocsURL)
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *RestoreError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for error comparison
func (e *RestoreError) Is(target error) bool {
	if t, ok := target.(*RestoreError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewConfigError creates a configuration error
func NewConfigError(code ErrorCode, message string, remediation string) *RestoreError {
	return &RestoreError{
		Code:        code,
		Category:    CategoryConfiguration,
		Message:     message,
		Remediation: remediation,
	}
}

// NewPreflightError creates a preflight rejection
func NewPreflightError(code ErrorCode, message string, remediation string) *RestoreError {
	return &RestoreError{
		Code:        code,
		Category:    CategoryPreflight,
		Message:     message,
		Remediation: remediation,
	}
}

// NewTransferError creates a storage transfer error
func NewTransferError(code ErrorCode, message string, cause error) *RestoreError {
	return &RestoreError{
		Code:     code,
		Category: CategoryTransfer,
		Message:  message,
		Cause:    cause,
	}
}

// NewCryptoError creates a decryption / key material error
func NewCryptoError(code ErrorCode, message string, remediation string) *RestoreError {
	return &RestoreError{
		Code:        code,
		Category:    CategoryCrypto,
		Message:     message,
		Remediation: remediation,
	}
}

// NewCompressionError creates a decompression error
func NewCompressionError(code ErrorCode, message string, cause error) *RestoreError {
	return &RestoreError{
		Code:     code,
		Category: CategoryCompression,
		Message:  message,
		Cause:    cause,
	}
}

// NewRestoreError creates a database adapter restore error. The message
// carries the engine tool output verbatim so operators see what the
// engine saw.
func NewRestoreError(code ErrorCode, message string, cause error) *RestoreError {
	return &RestoreError{
		Code:     code,
		Category: CategoryRestore,
		Message:  message,
		Cause:    cause,
	}
}

// NewInternalError creates an internal error (bugs)
func NewInternalError(code ErrorCode, message string, cause error) *RestoreError {
	return &RestoreError{
		Code:        code,
		Category:    CategoryInternal,
		Message:     message,
		Cause:       cause,
		Remediation: "This appears to be a bug. Please report it with the full log output.",
	}
}

// WithDetails adds details to an error
func (e *RestoreError) WithDetails(details string) *RestoreError {
	e.Details = details
	return e
}

// WithCause adds an underlying cause
func (e *RestoreError) WithCause(cause error) *RestoreError {
	e.Cause = cause
	return e
}

// WithDocs adds a documentation URL
func (e *RestoreError) WithDocs(url string) *RestoreError {
	e.DocsURL = url
	return e
}

// Common error constructors for frequently used errors

// VendorMismatch rejects a cross-engine restore
func VendorMismatch(backupType, targetType string) *RestoreError {
	return &RestoreError{
		Code:     ErrCodeVendorMismatch,
		Category: CategoryPreflight,
		Message:  fmt.Sprintf("Backup was created from %s but restore target is %s", backupType, targetType),
		Details:  fmt.Sprintf("Backup engine: %s\nTarget engine:  %s", backupType, targetType),
		Remediation: fmt.Sprintf(`Backups can only be restored into the engine that produced them.

To fix:
  1. Pick a restore target of type %q
  2. Or pick a backup produced from a %s source`, backupType, targetType),
	}
}

// VersionDowngrade rejects restoring a newer-engine backup into an older target
func VersionDowngrade(backupVersion, targetVersion string) *RestoreError {
	return &RestoreError{
		Code:     ErrCodeVersionDowngrade,
		Category: CategoryPreflight,
		Message:  "Backup was created by a newer engine version than the restore target",
		Details: fmt.Sprintf(
			"Backup engine version: %s\nTarget engine version: %s",
			backupVersion, targetVersion,
		),
		Remediation: `Restoring into an older engine risks silent data loss or load failures.

To fix:
  1. Upgrade the target server to at least the backup's engine version
  2. Or restore into a server that already runs a matching version`,
	}
}

// EditionMismatch rejects a restore across engine editions
func EditionMismatch(backupEdition, targetEdition string) *RestoreError {
	return &RestoreError{
		Code:     ErrCodeEditionMismatch,
		Category: CategoryPreflight,
		Message:  "Backup edition does not match the restore target edition",
		Details: fmt.Sprintf(
			"Backup edition: %s\nTarget edition: %s",
			backupEdition, targetEdition,
		),
		Remediation: "Restore into a server running the same engine edition as the backup source.",
	}
}

// TargetUnreachable reports a failed connection probe against the restore target
func TargetUnreachable(host string, port int, engine string, cause error) *RestoreError {
	return &RestoreError{
		Code:     ErrCodeTargetUnreachable,
		Category: CategoryPreflight,
		Message:  fmt.Sprintf("Cannot reach the %s restore target", engine),
		Details: fmt.Sprintf(
			"Host: %s:%d\nEngine: %s\nError: %v",
			host, port, engine, cause,
		),
		Remediation: fmt.Sprintf(`This usually means:
  1. %s is not running on %s
  2. %s is not accepting connections on port %d
  3. Firewall is blocking port %d

Test the connection manually:
  %s`,
			engine, host, engine, port, port,
			getTestCommand(engine, host, port),
		),
		Cause: cause,
	}
}

// ScratchSpaceLow rejects a restore whose artifact will not fit in scratch space
func ScratchSpaceLow(path string, requiredBytes, availableBytes int64) *RestoreError {
	return &RestoreError{
		Code:     ErrCodeScratchSpace,
		Category: CategoryPreflight,
		Message:  "Insufficient scratch disk space for restore",
		Details: fmt.Sprintf(
			"Scratch path: %s\nRequired: %d MB\nAvailable: %d MB",
			path, requiredBytes/(1024*1024), availableBytes/(1024*1024),
		),
		Remediation: `To fix:
  1. Free disk space on the scratch volume
  2. Or point --scratch-dir at a larger volume

Note: encrypted compressed artifacts need roughly 3x their size in scratch
space while the download, decrypted, and decompressed copies coexist.`,
	}
}

// ArtifactNotFound reports a backup file missing from its storage backend
func ArtifactNotFound(file string, storage string) *RestoreError {
	return &RestoreError{
		Code:     ErrCodeArtifactNotFound,
		Category: CategoryPreflight,
		Message:  fmt.Sprintf("Backup artifact not found: %s", file),
		Details:  fmt.Sprintf("Storage: %s", storage),
		Remediation: `To fix:
  1. List the storage backend to see available artifacts:
     dbvault adapters ls <storage-id>
  2. Check whether the artifact was pruned by a retention policy`,
	}
}

// MissingCryptoParams reports an encrypted artifact without usable parameters
func MissingCryptoParams(file string, missing string) *RestoreError {
	return &RestoreError{
		Code:     ErrCodeMissingCryptoParams,
		Category: CategoryCrypto,
		Message:  "Backup is encrypted but its metadata is missing decryption parameters",
		Details:  fmt.Sprintf("File: %s\nMissing: %s", file, missing),
		Remediation: `The sidecar metadata written at backup time must carry the IV and auth
tag. Without them the artifact cannot be decrypted. Restore the sidecar
file (` + "`<artifact>.meta.json`" + `) from the storage backend if it was removed.`,
	}
}

// NoCandidateKey reports that key recovery exhausted every profile
func NoCandidateKey(profilesTried int) *RestoreError {
	return &RestoreError{
		Code:     ErrCodeNoCandidateKey,
		Category: CategoryCrypto,
		Message:  "No configured encryption profile decrypts this backup",
		Details:  fmt.Sprintf("Profiles tried: %d", profilesTried),
		Remediation: `The profile that encrypted this backup no longer exists and no other
profile shares its key material.

To fix:
  1. Re-create an encryption profile with the original key material
  2. Then run the restore again`,
	}
}

// ToolMissing creates a missing restore tool error
func ToolMissing(tool string, purpose string) *RestoreError {
	return &RestoreError{
		Code:     ErrCodeToolMissing,
		Category: CategoryRestore,
		Message:  fmt.Sprintf("Required tool not found: %s", tool),
		Details:  fmt.Sprintf("Purpose: %s", purpose),
		Remediation: fmt.Sprintf(`To fix, install %s using your package manager:

     Ubuntu/Debian:
       sudo apt install %s

     RHEL/CentOS:
       sudo yum install %s

     macOS:
       brew install %s`, tool, getPackageName(tool), getPackageName(tool), getPackageName(tool)),
	}
}

// helper functions

func getTestCommand(engine, host string, port int) string {
	switch engine {
	case "postgres", "postgresql":
		return fmt.Sprintf("psql -h %s -p %d -U <user> -d <database>", host, port)
	case "mysql", "mariadb":
		return fmt.Sprintf("mysql -h %s -P %d -u <user> -p <database>", host, port)
	default:
		return fmt.Sprintf("nc -zv %s %d", host, port)
	}
}

func getPackageName(tool string) string {
	packages := map[string]string{
		"pg_restore":   "postgresql-client",
		"psql":         "postgresql-client",
		"mysql":        "mysql-client",
		"mariadb":      "mariadb-client",
		"mariadb-dump": "mariadb-client",
	}
	if pkg, ok := packages[tool]; ok {
		return pkg
	}
	return tool
}

// IsRetryable returns true if the error is transient and can be retried
func IsRetryable(err error) bool {
	var restoreErr *RestoreError
	if errors.As(err, &restoreErr) {
		// Transfer errors are typically transient backend hiccups
		switch restoreErr.Code {
		case ErrCodeDownloadFailed, ErrCodeUploadFailed,
			ErrCodeListFailed, ErrCodeTransferTimeout:
			return true
		}
	}
	return false
}

// GetCategory returns the error category if available
func GetCategory(err error) Category {
	var restoreErr *RestoreError
	if errors.As(err, &restoreErr) {
		return restoreErr.Category
	}
	return ""
}

// GetCode returns the error code if available
func GetCode(err error) ErrorCode {
	var restoreErr *RestoreError
	if errors.As(err, &restoreErr) {
		return restoreErr.Code
	}
	return ""
}
