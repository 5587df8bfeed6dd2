// Package importer defines the domain types shared by the import progress
// client: tasks, progress reports, the channel capability interfaces, and the
// error taxonomy surfaced to operators.
package importer
