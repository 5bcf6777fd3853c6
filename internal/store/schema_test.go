package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDescriptorEvaluate(t *testing.T) {
	t.Parallel()

	caps := SchemaV1.Evaluate(
		map[string]bool{
			TableSearchItems:      true,
			TableJudgeSubmissions: true,
			TableRejectedTrack:    true,
		},
		map[Column]bool{
			{Table: TableRejectedTrack, Name: "reason"}: true,
			{Table: TableDownloadableFiles, Name: "x"}:  true,
		},
	)

	require.Equal(t, 1, caps.Version)
	require.False(t, caps.Ready(SchemaV1))
	require.Equal(t, []string{TableDownloadedFile}, caps.Missing(SchemaV1))
	require.True(t, caps.HasColumn(TableRejectedTrack, "reason"))
	require.False(t, caps.HasColumn(TableJudgeSubmissions, "score"))
	require.False(t, caps.HasTable(TableDownloadableFiles))
	require.Len(t, caps.Tables, 5)
}

func TestCapabilitiesColumnRequiresTable(t *testing.T) {
	t.Parallel()

	caps := SchemaV1.Evaluate(
		map[string]bool{},
		map[Column]bool{{Table: TableRejectedTrack, Name: "reason"}: true},
	)
	require.False(t, caps.HasColumn(TableRejectedTrack, "reason"))
	require.Len(t, caps.Missing(SchemaV1), 4)
}

func TestCapabilitiesReady(t *testing.T) {
	t.Parallel()

	tables := map[string]bool{}
	for _, name := range SchemaV1.RequiredTables {
		tables[name] = true
	}
	caps := SchemaV1.Evaluate(tables, nil)
	require.True(t, caps.Ready(SchemaV1))
	require.Empty(t, caps.Missing(SchemaV1))
}
