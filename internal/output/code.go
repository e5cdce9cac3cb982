package output

import "pig/internal/xerr"

// Status code structure follows the 222 pattern: MMCCNN
// MM: Module code (00-99)
// CC: Category code (00-99)
// NN: Specific error code (00-99)

// Module codes (MM) - identifies which subsystem generated the result.
// Module codes start from 10 to avoid octal literal issues (no leading zeros).
const (
	MODULE_STORAGE  = 100000 // Storage abstraction (MM=10)
	MODULE_FILTER   = 110000 // IO filter chain (MM=11)
	MODULE_REPOINFO = 120000 // archive.info / backup.info (MM=12)
	MODULE_MANIFEST = 130000 // Manifest (MM=13)
	MODULE_BACKUP   = 140000 // Backup engine (MM=14)
	MODULE_RESTORE  = 150000 // Restore engine (MM=15)
	MODULE_EXEC     = 160000 // Parallel executor (MM=16)
	MODULE_LOCK     = 170000 // Lock manager (MM=17)
	MODULE_CONFIG   = 900000 // Configuration system (MM=90)
	MODULE_SYSTEM   = 990000 // System-level errors (MM=99)
)

// Category codes (CC) - classifies the type of result/error.
const (
	CAT_SUCCESS   = 0   // Success/informational
	CAT_PARAM     = 100 // Parameter/usage errors
	CAT_PERM      = 200 // Permission errors
	CAT_DEPEND    = 300 // Dependency errors
	CAT_NETWORK   = 400 // Network errors
	CAT_RESOURCE  = 500 // Resource errors
	CAT_STATE     = 600 // State errors
	CAT_CONFIG    = 700 // Configuration errors
	CAT_OPERATION = 800 // Operation errors
	CAT_INTERNAL  = 900 // Internal errors
)

// Storage module specific codes (MODULE_STORAGE = 100000)
const (
	CodeStorageFileMissing  = MODULE_STORAGE + CAT_RESOURCE + 1  // required file absent
	CodeStoragePathMissing  = MODULE_STORAGE + CAT_RESOURCE + 2  // required path absent
	CodeStorageFileOpen     = MODULE_STORAGE + CAT_OPERATION + 1 // open failed
	CodeStorageFileRead     = MODULE_STORAGE + CAT_OPERATION + 2 // read failed
	CodeStorageFileWrite    = MODULE_STORAGE + CAT_OPERATION + 3 // write failed
	CodeStorageFileOwner    = MODULE_STORAGE + CAT_OPERATION + 4 // chown/chmod failed
	CodeStoragePathCreate   = MODULE_STORAGE + CAT_OPERATION + 5 // mkdir failed
	CodeStoragePathNotEmpty = MODULE_STORAGE + CAT_STATE + 1     // non-recursive remove on non-empty dir
	CodeStoragePathOpen     = MODULE_STORAGE + CAT_OPERATION + 6 // path permission check failed
)

// Repository info-file module specific codes (MODULE_REPOINFO = 120000)
const (
	CodeRepoInfoChecksum    = MODULE_REPOINFO + CAT_STATE + 1     // checksum mismatch on primary
	CodeRepoInfoFormat      = MODULE_REPOINFO + CAT_CONFIG + 1    // INI grammar error
	CodeRepoInfoFileInvalid = MODULE_REPOINFO + CAT_STATE + 2     // cross-file history mismatch
	CodeRepoInfoMissing     = MODULE_REPOINFO + CAT_RESOURCE + 1  // neither primary nor .copy readable
)

// Manifest module specific codes (MODULE_MANIFEST = 130000)
const (
	CodeManifestFormat     = MODULE_MANIFEST + CAT_CONFIG + 1  // INI grammar error
	CodeManifestChecksum   = MODULE_MANIFEST + CAT_STATE + 1    // checksum mismatch
	CodeManifestLinkCycle  = MODULE_MANIFEST + CAT_STATE + 2    // link destination nests another target
)

// Backup engine module specific codes (MODULE_BACKUP = 140000)
const (
	CodeBackupMismatch   = MODULE_BACKUP + CAT_STATE + 1     // cluster identity does not match backup.info
	CodeBackupSetInvalid = MODULE_BACKUP + CAT_PARAM + 1     // requested backup type/set invalid
	CodeBackupStop       = MODULE_BACKUP + CAT_STATE + 2     // stop-file present
	CodeBackupFailed     = MODULE_BACKUP + CAT_OPERATION + 1 // backup run failed
)

// Restore engine module specific codes (MODULE_RESTORE = 150000)
const (
	CodeRestoreSetInvalid  = MODULE_RESTORE + CAT_PARAM + 1     // requested backup set not found
	CodeRestoreLinkMap     = MODULE_RESTORE + CAT_PARAM + 2     // invalid --link-map entry
	CodeRestoreTablespace  = MODULE_RESTORE + CAT_PARAM + 3     // invalid --tablespace-map entry
	CodeRestoreCrypto      = MODULE_RESTORE + CAT_STATE + 1     // decryption failed mid-restore
	CodeRestoreFailed      = MODULE_RESTORE + CAT_OPERATION + 1 // restore run failed
)

// Parallel executor module specific codes (MODULE_EXEC = 160000)
const (
	CodeExecProtocol = MODULE_EXEC + CAT_NETWORK + 1   // framing/protocol error on worker channel
	CodeExecTimeout  = MODULE_EXEC + CAT_NETWORK + 2   // worker silence past protocol_timeout/2
	CodeExecFailed   = MODULE_EXEC + CAT_OPERATION + 1 // worker job failed
)

// Lock manager module specific codes (MODULE_LOCK = 170000)
const (
	CodeLockAcquire = MODULE_LOCK + CAT_STATE + 1 // lock already held
	CodeLockStop    = MODULE_LOCK + CAT_STATE + 2 // stop-file present
)

// System module specific codes (MODULE_SYSTEM = 990000)
const (
	CodeSystemInvalidArgs   = MODULE_SYSTEM + CAT_PARAM + 1     // invalid command/flag/arguments
	CodeSystemCommandFailed = MODULE_SYSTEM + CAT_OPERATION + 1 // unclassified command execution failure
	CodeSystemAssert        = MODULE_SYSTEM + CAT_INTERNAL + 1  // broken programming invariant
)

// ExitCode converts a status code to a shell exit code.
// It extracts the category (CC) from the 222 structure (MMCCNN) and maps it to exit codes.
func ExitCode(code int) int {
	if code == 0 {
		return 0
	}
	if code < 0 {
		return 1
	}
	category := (code % 10000) / 100
	switch category {
	case 0:
		return 0
	case 1:
		return 2
	case 2:
		return 3
	case 3:
		return 4
	case 4:
		return 5
	case 5:
		return 6
	case 6:
		return 9
	case 7:
		return 8
	case 8, 9:
		return 1
	default:
		return 1
	}
}

// kindExitCode carries the specific exit codes spec.md §6 calls out by
// name (LockAcquire=50, BackupMismatch=95, Checksum=26, FileMissing=38);
// kinds not listed fall back to ExitCode applied to kindCode's 222-pattern code.
var kindExitCode = map[xerr.Kind]int{
	xerr.LockAcquire:    50,
	xerr.BackupMismatch: 95,
	xerr.Checksum:       26,
	xerr.FileMissing:    38,
	xerr.Stop:           1,
	xerr.Assert:         255,
}

// kindCode maps an xerr.Kind to a 222-pattern status code, used when the
// kind has no dedicated exit code in spec.md §6.
var kindCode = map[xerr.Kind]int{
	xerr.FileMissing:        CodeStorageFileMissing,
	xerr.FileInvalid:        CodeRepoInfoFileInvalid,
	xerr.FileOpen:           CodeStorageFileOpen,
	xerr.FileRead:           CodeStorageFileRead,
	xerr.FileWrite:          CodeStorageFileWrite,
	xerr.FileOwner:          CodeStorageFileOwner,
	xerr.PathMissing:        CodeStoragePathMissing,
	xerr.PathCreate:         CodeStoragePathCreate,
	xerr.PathNotEmpty:       CodeStoragePathNotEmpty,
	xerr.PathOpen:           CodeStoragePathOpen,
	xerr.LinkMap:            CodeRestoreLinkMap,
	xerr.TablespaceMap:      CodeRestoreTablespace,
	xerr.BackupMismatch:     CodeBackupMismatch,
	xerr.BackupSetInvalid:   CodeBackupSetInvalid,
	xerr.Checksum:           CodeRepoInfoChecksum,
	xerr.Format:             CodeManifestFormat,
	xerr.Crypto:             CodeRestoreCrypto,
	xerr.ArchiveMismatch:    CodeRepoInfoFileInvalid,
	xerr.ArchiveTimeout:     CodeExecTimeout,
	xerr.LockAcquire:        CodeLockAcquire,
	xerr.Stop:               CodeLockStop,
	xerr.HostConnect:        CodeExecProtocol,
	xerr.Protocol:           CodeExecProtocol,
	xerr.OptionInvalid:      CodeSystemInvalidArgs,
	xerr.OptionInvalidValue: CodeSystemInvalidArgs,
	xerr.Assert:             CodeSystemAssert,
}

// StatusCode returns the 222-pattern status code for an *xerr.Error, or
// CodeSystemCommandFailed if the error carries no known kind.
func StatusCode(err error) int {
	var e *xerr.Error
	if ae, ok := err.(*xerr.Error); ok {
		e = ae
	} else {
		return CodeSystemCommandFailed
	}
	if code, ok := kindCode[e.Kind]; ok {
		return code
	}
	return CodeSystemCommandFailed
}

// ProcessExitCode returns the process exit code for an error per spec.md
// §6/§7: named kinds get their dedicated code, everything else falls back
// to the 222-pattern ExitCode of StatusCode(err).
func ProcessExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *xerr.Error
	if ae, ok := err.(*xerr.Error); ok {
		e = ae
		if code, ok := kindExitCode[e.Kind]; ok {
			return code
		}
	}
	return ExitCode(StatusCode(err))
}
