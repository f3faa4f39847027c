package inmemdb

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/content"
)

// submissionRepository is a map-backed content.Repository. It honors the same
// versioning contract as the SQL implementation so concurrency paths can be
// exercised in tests.
type submissionRepository struct {
	mutex sync.RWMutex
	subs  map[string]content.Submission // key: ID
}

var _ content.Repository = (*submissionRepository)(nil)

func NewSubmissionRepository() *submissionRepository {
	return &submissionRepository{subs: make(map[string]content.Submission)}
}

func copySubmission(sub content.Submission) content.Submission {
	cp := sub
	cp.Tags = append([]string(nil), sub.Tags...)
	cp.Feedback = append([]content.FeedbackEntry(nil), sub.Feedback...)
	return cp
}

func (repo *submissionRepository) CreateSubmission(_ context.Context, sub content.Submission) (content.Submission, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	sub.ID = uuid.New().String()
	if sub.Version == 0 {
		sub.Version = 1
	}
	repo.subs[sub.ID] = copySubmission(sub)
	return sub, nil
}

func (repo *submissionRepository) GetSubmission(_ context.Context, id string) (content.Submission, error) {
	repo.mutex.RLock()
	defer repo.mutex.RUnlock()

	if sub, ok := repo.subs[id]; ok {
		return copySubmission(sub), nil
	}
	return content.Submission{}, content.ErrNotFound
}

func (repo *submissionRepository) QuerySubmissions(
	_ context.Context, filter *content.QueryFilter, ordering []core.DBOrdering, page *core.Pagination,
) ([]content.Submission, error) {
	repo.mutex.RLock()
	defer repo.mutex.RUnlock()

	subs := make([]content.Submission, 0, len(repo.subs))
	for _, sub := range repo.subs {
		if submissionMatches(sub, filter) {
			subs = append(subs, copySubmission(sub))
		}
	}
	sortSubmissions(subs, ordering)
	return paginate(subs, page), nil
}

func submissionMatches(sub content.Submission, filter *content.QueryFilter) bool {
	if filter == nil || filter.IsEmpty() {
		return true
	}
	if filter.Search != "" {
		search := strings.ToLower(filter.Search)
		if !(strings.Contains(strings.ToLower(sub.Title), search) ||
			strings.Contains(strings.ToLower(sub.Description), search) ||
			strings.Contains(strings.ToLower(sub.Category), search)) {
			return false
		}
	}
	if filter.Statuses != nil {
		var found bool
		for _, s := range filter.Statuses {
			if sub.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.ContentTypes != nil {
		var found bool
		for _, ct := range filter.ContentTypes {
			if sub.ContentType == ct {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.AuthorID != "" && sub.AuthorID != filter.AuthorID {
		return false
	}
	if filter.ReviewerID != "" && sub.ReviewerID != filter.ReviewerID {
		return false
	}
	if filter.Priority != "" && sub.Priority != filter.Priority {
		return false
	}
	if !filter.SubmittedFrom.IsZero() && sub.SubmittedAt.Before(filter.SubmittedFrom) {
		return false
	}
	if !filter.SubmittedTo.IsZero() && sub.SubmittedAt.After(filter.SubmittedTo) {
		return false
	}
	if !filter.ClaimedBefore.IsZero() && !(!sub.ClaimedAt.IsZero() && sub.ClaimedAt.Before(filter.ClaimedBefore)) {
		return false
	}
	return true
}

func sortSubmissions(subs []content.Submission, ordering []core.DBOrdering) {
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "submitted_at", Ascending: true}}
	}
	ord := ordering[0]
	sort.SliceStable(subs, func(i, j int) bool {
		a, b := subs[i], subs[j]
		var less bool
		switch ord.Field {
		case "title":
			less = a.Title < b.Title
		case "priority":
			less = a.Priority < b.Priority
		case "decided_at":
			less = a.DecidedAt.Before(b.DecidedAt)
		case "created_at":
			less = a.CreatedAt.Before(b.CreatedAt)
		default:
			less = a.SubmittedAt.Before(b.SubmittedAt)
		}
		if ord.Ascending {
			return less
		}
		return !less
	})
}

func paginate(subs []content.Submission, page *core.Pagination) []content.Submission {
	if page == nil {
		return subs
	}
	if page.Offset >= len(subs) {
		return []content.Submission{}
	}
	subs = subs[page.Offset:]
	if page.Limit > 0 && page.Limit < len(subs) {
		subs = subs[:page.Limit]
	}
	return subs
}

func (repo *submissionRepository) UpdateSubmission(
	_ context.Context, sub content.Submission, expectedVersion int,
) (content.Submission, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	orig, ok := repo.subs[sub.ID]
	if !ok {
		return content.Submission{}, content.ErrNotFound
	}
	if orig.Version != expectedVersion {
		return content.Submission{}, content.ErrVersionConflict
	}
	// feedback is append-only; keep stored entries authoritative
	if len(sub.Feedback) < len(orig.Feedback) {
		sub.Feedback = orig.Feedback
	}
	sub.Version = orig.Version + 1
	repo.subs[sub.ID] = copySubmission(sub)
	return sub, nil
}

func (repo *submissionRepository) DeleteSubmissionsByID(_ context.Context, ids ...string) (int, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	var count int
	for _, id := range ids {
		if _, ok := repo.subs[id]; ok {
			delete(repo.subs, id)
			count++
		}
	}
	return count, nil
}

func (repo *submissionRepository) CountSubmissionsByStatus(_ context.Context) (map[content.Status]int, error) {
	repo.mutex.RLock()
	defer repo.mutex.RUnlock()

	counts := make(map[content.Status]int, len(content.AllStatuses))
	for _, sub := range repo.subs {
		counts[sub.Status]++
	}
	return counts, nil
}
