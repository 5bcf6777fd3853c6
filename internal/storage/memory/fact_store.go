// Package memory provides in-memory fact store and progress cache
// implementations for development and testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/syncboard/internal/store"
	"github.com/JakeFAU/syncboard/internal/syncstate"
)

// Track is a row of the track table.
type Track struct {
	ID     int64
	Title  string
	Artist string
	Album  string
}

// Submission is a judged candidate file for a track.
type Submission struct {
	ID       int64
	TrackID  int64
	FileID   int64
	Username string
	Filename string
	Score    float64
}

type rejection struct {
	submissionID int64
	reason       string
}

// FactStore mirrors the engine's relational facts in memory. It applies the
// same derivation rules as the Postgres adapter.
type FactStore struct {
	mu          sync.RWMutex
	tables      map[string]bool
	tracks      map[int64]Track
	submissions map[int64]Submission
	downloaded  map[string]bool
	rejections  []rejection
	err         error
}

var _ store.FactStore = (*FactStore)(nil)

// NewFactStore constructs a FactStore with every table of store.SchemaV1 present.
func NewFactStore() *FactStore {
	tables := make(map[string]bool)
	for _, t := range store.SchemaV1.Tables() {
		tables[t] = true
	}
	return &FactStore{
		tables:      tables,
		tracks:      make(map[int64]Track),
		submissions: make(map[int64]Submission),
		downloaded:  make(map[string]bool),
	}
}

// SetTables replaces the set of existing tables.
func (s *FactStore) SetTables(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = make(map[string]bool, len(names))
	for _, n := range names {
		s.tables[n] = true
	}
}

// SetUnavailable makes every call fail with err wrapped in store.ErrUnavailable. nil restores service.
func (s *FactStore) SetUnavailable(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// AddTrack inserts or replaces a track.
func (s *FactStore) AddTrack(t Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks[t.ID] = t
}

// AddSubmission inserts or replaces a submission.
func (s *FactStore) AddSubmission(sub Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions[sub.ID] = sub
}

// MarkDownloaded records a completed download of filename.
func (s *FactStore) MarkDownloaded(filename string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloaded[filename] = true
}

// Reject records a rejection of a submission.
func (s *FactStore) Reject(submissionID int64, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejections = append(s.rejections, rejection{submissionID: submissionID, reason: reason})
}

func (s *FactStore) check() error {
	if s.err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, s.err)
	}
	return nil
}

// Ping reports the injected availability.
func (s *FactStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check()
}

// Capabilities evaluates store.SchemaV1 against the configured tables.
func (s *FactStore) Capabilities(context.Context) (store.Capabilities, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return store.Capabilities{}, err
	}
	columns := make(map[store.Column]bool, len(store.SchemaV1.OptionalColumns))
	for _, c := range store.SchemaV1.OptionalColumns {
		columns[c] = true
	}
	return store.SchemaV1.Evaluate(s.tables, columns), nil
}

// ListTrackFacts returns facts for the newest tracks first.
func (s *FactStore) ListTrackFacts(_ context.Context, limit int) ([]syncstate.TrackFacts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	if !s.tables[store.TableSearchItems] {
		return []syncstate.TrackFacts{}, nil
	}
	ids := s.trackIDs()
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]syncstate.TrackFacts, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.facts(s.tracks[id]))
	}
	return out, nil
}

func (s *FactStore) trackIDs() []int64 {
	ids := make([]int64, 0, len(s.tracks))
	for id := range s.tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	return ids
}

func (s *FactStore) subsFor(trackID int64) []Submission {
	var out []Submission
	for _, sub := range s.submissions {
		if sub.TrackID == trackID {
			out = append(out, sub)
		}
	}
	return out
}

func (s *FactStore) completed(subs []Submission) bool {
	if !s.tables[store.TableDownloadedFile] {
		return false
	}
	for _, sub := range subs {
		if s.downloaded[sub.Filename] {
			return true
		}
	}
	return false
}

func (s *FactStore) facts(t Track) syncstate.TrackFacts {
	f := syncstate.TrackFacts{TrackID: t.ID, Title: t.Title, Artist: t.Artist, Album: t.Album}
	if !s.tables[store.TableJudgeSubmissions] {
		return f
	}
	subs := s.subsFor(t.ID)
	f.CandidatesCount = len(subs)
	f.Completed = s.completed(subs)

	ids := make(map[int64]bool, len(subs))
	for _, sub := range subs {
		ids[sub.ID] = true
		if f.BestScore == nil || sub.Score > *f.BestScore {
			score := sub.Score
			f.BestScore = &score
		}
	}
	if s.tables[store.TableRejectedTrack] {
		for _, r := range s.rejections {
			if ids[r.submissionID] {
				f.Rejected = true
				reason := r.reason
				f.RejectReason = &reason
			}
		}
	}
	if len(subs) > 0 && s.tables[store.TableDownloadableFiles] {
		sort.Slice(subs, func(i, j int) bool {
			di, dj := s.downloaded[subs[i].Filename], s.downloaded[subs[j].Filename]
			if di != dj {
				return di
			}
			if subs[i].Score != subs[j].Score {
				return subs[i].Score > subs[j].Score
			}
			return subs[i].ID > subs[j].ID
		})
		username, filename := subs[0].Username, subs[0].Filename
		f.Username, f.Filename = &username, &filename
	}
	return f
}

// CountTracks returns the number of tracks.
func (s *FactStore) CountTracks(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	if !s.tables[store.TableSearchItems] {
		return 0, store.ErrSchemaMissing
	}
	return len(s.tracks), nil
}

// FleetCounts returns lifecycle counters and per-table row counts.
func (s *FactStore) FleetCounts(context.Context) (syncstate.FleetCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return syncstate.FleetCounts{}, err
	}
	rows := map[string]int64{
		store.TableSearchItems:       int64(len(s.tracks)),
		store.TableJudgeSubmissions:  int64(len(s.submissions)),
		store.TableDownloadedFile:    int64(len(s.downloaded)),
		store.TableRejectedTrack:     int64(len(s.rejections)),
		store.TableDownloadableFiles: int64(len(s.submissions)),
	}
	out := syncstate.FleetCounts{TableCounts: map[string]int64{}}
	ready := true
	for _, t := range store.SchemaV1.Tables() {
		if s.tables[t] {
			out.TableCounts[t] = rows[t]
		}
	}
	for _, t := range store.SchemaV1.RequiredTables {
		ready = ready && s.tables[t]
	}
	out.SchemaReady = ready
	if !ready {
		return out, nil
	}
	for _, t := range s.tracks {
		f := s.facts(t)
		out.Total++
		switch {
		case f.Completed:
			out.Completed++
		case f.Rejected:
			out.Failed++
		}
	}
	return out, nil
}

// ListSubmissionTracks returns every submission→track link.
func (s *FactStore) ListSubmissionTracks(context.Context) ([]store.SubmissionTrack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	if !s.tables[store.TableJudgeSubmissions] {
		return nil, store.ErrSchemaMissing
	}
	out := make([]store.SubmissionTrack, 0, len(s.submissions))
	for _, sub := range s.submissions {
		out = append(out, store.SubmissionTrack{SubmissionID: sub.ID, TrackID: sub.TrackID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmissionID < out[j].SubmissionID })
	return out, nil
}

// ListCandidates returns judged candidates for a track, best score first.
func (s *FactStore) ListCandidates(_ context.Context, trackID int64) ([]syncstate.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	if !s.tables[store.TableSearchItems] || !s.tables[store.TableJudgeSubmissions] {
		return nil, store.ErrSchemaMissing
	}
	if _, ok := s.tracks[trackID]; !ok {
		return nil, store.ErrNotFound
	}
	subs := s.subsFor(trackID)
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].Score != subs[j].Score {
			return subs[i].Score > subs[j].Score
		}
		return subs[i].ID < subs[j].ID
	})
	out := make([]syncstate.Candidate, 0, len(subs))
	for _, sub := range subs {
		out = append(out, syncstate.Candidate{
			ID:       sub.ID,
			FileID:   sub.FileID,
			Username: sub.Username,
			Filename: sub.Filename,
			Score:    sub.Score,
		})
	}
	return out, nil
}

// ClearRejections deletes rejections of every submission of the track.
func (s *FactStore) ClearRejections(_ context.Context, trackID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	for _, t := range store.SchemaV1.RequiredTables {
		if !s.tables[t] {
			return 0, store.ErrSchemaMissing
		}
	}
	if _, ok := s.tracks[trackID]; !ok {
		return 0, store.ErrNotFound
	}
	kept := s.rejections[:0]
	var cleared int64
	for _, r := range s.rejections {
		if sub, ok := s.submissions[r.submissionID]; ok && sub.TrackID == trackID {
			cleared++
			continue
		}
		kept = append(kept, r)
	}
	s.rejections = kept
	return cleared, nil
}
