package postgres

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/syncboard/internal/store"
)

const (
	sqlExistingTables = `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = current_schema() AND table_name = ANY($1)`

	sqlExistingColumns = `
SELECT table_name, column_name
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = ANY($1)`

	sqlCountTracks = `SELECT COUNT(*) FROM search_items`

	sqlTrackExists = `SELECT EXISTS (SELECT 1 FROM search_items WHERE id = $1)`

	sqlSubmissionTracks = `
SELECT id, track
FROM judge_submissions
WHERE track IS NOT NULL`

	sqlClearRejections = `
DELETE FROM rejected_track
WHERE track IN (SELECT id FROM judge_submissions WHERE track = $1)`
)

// completedExpr is true when a downloaded file is linked to the track whose
// id is trackCol. The link goes through the winning candidate's filename or,
// on schemas that carry it, a direct track_id column.
func completedExpr(caps store.Capabilities, trackCol string) string {
	var links []string
	if caps.HasTable(store.TableDownloadableFiles) {
		links = append(links, fmt.Sprintf(`EXISTS (
		SELECT 1
		FROM judge_submissions cjs
		JOIN downloadable_files cdlf ON cdlf.id = cjs.query
		JOIN downloaded_file cdf ON cdf.filename = cdlf.filename
		WHERE cjs.track = %s)`, trackCol))
	}
	if caps.HasColumn(store.TableDownloadedFile, "track_id") {
		links = append(links, fmt.Sprintf(`EXISTS (SELECT 1 FROM downloaded_file tdf WHERE tdf.track_id = %s)`, trackCol))
	}
	if len(links) == 0 {
		return "FALSE"
	}
	return "(" + strings.Join(links, " OR ") + ")"
}

func rejectedExpr(trackCol string) string {
	return fmt.Sprintf(`EXISTS (
		SELECT 1
		FROM rejected_track rrt
		JOIN judge_submissions rjs ON rjs.id = rrt.track
		WHERE rjs.track = %s)`, trackCol)
}

// trackFactsQuery selects one row per track with every durable fact the
// resolver needs. Columns missing from the live schema are replaced by NULL.
func trackFactsQuery(caps store.Capabilities) string {
	submissions := caps.HasTable(store.TableJudgeSubmissions)
	hasScore := caps.HasColumn(store.TableJudgeSubmissions, "score")

	completed := "FALSE"
	if caps.HasTable(store.TableDownloadedFile) {
		completed = completedExpr(caps, "si.id")
	}

	candidates := "0::bigint"
	bestScore := "NULL::double precision"
	rejected := "FALSE"
	reason := "NULL::text"
	if submissions {
		candidates = `(SELECT COUNT(*) FROM judge_submissions njs WHERE njs.track = si.id)`
		if hasScore {
			bestScore = `(SELECT MAX(sjs.score)::double precision FROM judge_submissions sjs WHERE sjs.track = si.id)`
		}
		if caps.HasTable(store.TableRejectedTrack) {
			rejected = rejectedExpr("si.id")
			if caps.HasColumn(store.TableRejectedTrack, "reason") {
				reason = `(
		SELECT rrt.reason
		FROM rejected_track rrt
		JOIN judge_submissions rjs ON rjs.id = rrt.track
		WHERE rjs.track = si.id
		ORDER BY rrt.id DESC
		LIMIT 1)`
			}
		}
	}

	match := ""
	username, filename := "NULL::text", "NULL::text"
	if submissions && caps.HasTable(store.TableDownloadableFiles) {
		order := []string{}
		if caps.HasTable(store.TableDownloadedFile) {
			order = append(order, "EXISTS (SELECT 1 FROM downloaded_file mdf WHERE mdf.filename = mdlf.filename) DESC")
		}
		if hasScore {
			order = append(order, "mjs.score DESC NULLS LAST")
		}
		order = append(order, "mjs.id DESC")
		match = fmt.Sprintf(`
LEFT JOIN LATERAL (
	SELECT mdlf.username, mdlf.filename
	FROM judge_submissions mjs
	JOIN downloadable_files mdlf ON mdlf.id = mjs.query
	WHERE mjs.track = si.id
	ORDER BY %s
	LIMIT 1
) m ON TRUE`, strings.Join(order, ", "))
		username, filename = "m.username", "m.filename"
	}

	return fmt.Sprintf(`
SELECT
	si.id,
	COALESCE(si.track, ''),
	COALESCE(si.artist, ''),
	COALESCE(si.album, ''),
	%s AS completed,
	%s AS candidates,
	%s AS best_score,
	%s AS rejected,
	%s AS reject_reason,
	%s AS username,
	%s AS filename
FROM search_items si%s
ORDER BY si.id DESC
LIMIT $1`, completed, candidates, bestScore, rejected, reason, username, filename, match)
}

// fleetCountsQuery counts tracks, completed tracks, and rejected tracks that
// have not since completed. It assumes the required tables exist.
func fleetCountsQuery(caps store.Capabilities) string {
	completed := completedExpr(caps, "si.id")
	return fmt.Sprintf(`
SELECT
	(SELECT COUNT(*) FROM search_items) AS total,
	(SELECT COUNT(*) FROM search_items si WHERE %s) AS completed,
	(SELECT COUNT(*) FROM search_items si WHERE %s AND NOT %s) AS failed`,
		completed, rejectedExpr("si.id"), completed)
}

// tableCountsQuery returns one (name, count) row per existing table, in
// descriptor order. Table names come from the descriptor, never from input.
func tableCountsQuery(caps store.Capabilities, tables []string) string {
	parts := make([]string, 0, len(tables))
	for _, t := range tables {
		if !caps.HasTable(t) {
			continue
		}
		parts = append(parts, fmt.Sprintf(`SELECT '%s'::text, COUNT(*) FROM %s`, t, t))
	}
	return strings.Join(parts, "\nUNION ALL\n")
}

func candidatesQuery(caps store.Capabilities) string {
	score := "0::double precision"
	order := "js.id ASC"
	if caps.HasColumn(store.TableJudgeSubmissions, "score") {
		score = "COALESCE(js.score, 0)::double precision"
		order = "js.score DESC NULLS LAST, js.id ASC"
	}
	if !caps.HasTable(store.TableDownloadableFiles) {
		return fmt.Sprintf(`
SELECT js.id, COALESCE(js.query, 0)::bigint, '', '', %s
FROM judge_submissions js
WHERE js.track = $1
ORDER BY %s`, score, order)
	}
	return fmt.Sprintf(`
SELECT js.id, COALESCE(js.query, 0)::bigint, COALESCE(dlf.username, ''), COALESCE(dlf.filename, ''), %s
FROM judge_submissions js
LEFT JOIN downloadable_files dlf ON dlf.id = js.query
WHERE js.track = $1
ORDER BY %s`, score, order)
}
