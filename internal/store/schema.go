package store

import "sort"

// Table names owned by the external engine.
const (
	TableSearchItems       = "search_items"
	TableJudgeSubmissions  = "judge_submissions"
	TableDownloadedFile    = "downloaded_file"
	TableRejectedTrack     = "rejected_track"
	TableDownloadableFiles = "downloadable_files"
)

// Column is a table-qualified column reference.
type Column struct {
	Table string
	Name  string
}

// Descriptor lists the tables and columns the dashboard knows how to use.
// It is checked once per health check and the result cached, instead of
// probing the catalog on every request.
type Descriptor struct {
	Version         int
	RequiredTables  []string
	OptionalTables  []string
	OptionalColumns []Column
}

// SchemaV1 is the descriptor matching the engine's current schema.
var SchemaV1 = Descriptor{
	Version: 1,
	RequiredTables: []string{
		TableSearchItems,
		TableJudgeSubmissions,
		TableDownloadedFile,
		TableRejectedTrack,
	},
	OptionalTables: []string{TableDownloadableFiles},
	OptionalColumns: []Column{
		{Table: TableRejectedTrack, Name: "reason"},
		{Table: TableJudgeSubmissions, Name: "score"},
		{Table: TableDownloadedFile, Name: "track_id"},
	},
}

// Tables returns every table named by the descriptor.
func (d Descriptor) Tables() []string {
	out := make([]string, 0, len(d.RequiredTables)+len(d.OptionalTables))
	out = append(out, d.RequiredTables...)
	return append(out, d.OptionalTables...)
}

// Capabilities is the evaluated descriptor.
type Capabilities struct {
	Version int
	Tables  map[string]bool
	Columns map[Column]bool
}

// Evaluate builds Capabilities from the sets of existing tables and columns.
func (d Descriptor) Evaluate(tables map[string]bool, columns map[Column]bool) Capabilities {
	caps := Capabilities{
		Version: d.Version,
		Tables:  make(map[string]bool, len(d.RequiredTables)+len(d.OptionalTables)),
		Columns: make(map[Column]bool, len(d.OptionalColumns)),
	}
	for _, t := range d.Tables() {
		caps.Tables[t] = tables[t]
	}
	for _, c := range d.OptionalColumns {
		caps.Columns[c] = caps.Tables[c.Table] && columns[c]
	}
	return caps
}

// HasTable reports whether the table exists.
func (c Capabilities) HasTable(name string) bool {
	return c.Tables[name]
}

// HasColumn reports whether the optional column exists.
func (c Capabilities) HasColumn(table, name string) bool {
	return c.Columns[Column{Table: table, Name: name}]
}

// Ready reports whether every required table of the descriptor exists.
func (c Capabilities) Ready(d Descriptor) bool {
	for _, t := range d.RequiredTables {
		if !c.Tables[t] {
			return false
		}
	}
	return true
}

// Missing lists required tables that do not exist, sorted.
func (c Capabilities) Missing(d Descriptor) []string {
	var out []string
	for _, t := range d.RequiredTables {
		if !c.Tables[t] {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}
