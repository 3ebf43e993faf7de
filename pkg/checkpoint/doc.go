// Package checkpoint saves per-keyword progress so an interrupted run can be resumed.
//
// After each keyword finishes, its outcome and records are written to a
// checkpoint file named after the run's output path. On resume, satisfied
// keywords are skipped and the others start from the records they already
// have. A run that completes deletes its checkpoint.
//
// Checkpoints are stored in platform-specific data directories:
//   - Linux: $XDG_DATA_HOME/xscraper/checkpoints/ or ~/.local/share/xscraper/checkpoints/
//   - macOS: ~/Library/Application Support/xscraper/checkpoints/
//   - Windows: %APPDATA%/xscraper/checkpoints/
//
// Files are written atomically and carry a version number.
package checkpoint
