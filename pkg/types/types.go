package types

// ErrorKind classifies why an archive job failed.
type ErrorKind string

const (
	// OpenError means the archive could not be opened or is corrupt.
	OpenError ErrorKind = "open_error"
	// MemberExtractionError means writing a matched member to disk failed.
	MemberExtractionError ErrorKind = "member_extraction_error"
	// UnsafeMemberPath means a matched member path escapes the output root.
	UnsafeMemberPath ErrorKind = "unsafe_member_path"
)

const (
	ArchivesDir  = "archives"
	ExtractedDir = "extracted"
)

// DefaultPatterns matches the build metadata files of a Python sdist.
var DefaultPatterns = []string{
	"*/pyproject.toml",
	"*/setup.cfg",
	"*/setup.py",
}

// Job is one archive submitted to the worker pool.
type Job struct {
	Path string
}

// Result is the outcome of processing a single archive.
// ExtractedPaths is in archive member order. ErrorKind is empty on success.
type Result struct {
	ArchivePath    string
	ExtractedPaths []string
	ErrorKind      ErrorKind
	Detail         string
}

func Success(archivePath string, extractedPaths []string) Result {
	return Result{
		ArchivePath:    archivePath,
		ExtractedPaths: extractedPaths,
	}
}

func Failure(archivePath string, kind ErrorKind, detail string) Result {
	return Result{
		ArchivePath: archivePath,
		ErrorKind:   kind,
		Detail:      detail,
	}
}

func (r Result) Failed() bool {
	return r.ErrorKind != ""
}
