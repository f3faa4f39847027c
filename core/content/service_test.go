package content_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/content"
	"github.com/trezcool/darasa/core/user"
	inmemdb "github.com/trezcool/darasa/storage/database/inmem"
)

type mailBackendMock struct {
	mutex sync.Mutex
	msgs  []*core.EmailMessage
}

func (b *mailBackendMock) SendMessages(messages ...*core.EmailMessage) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.msgs = append(b.msgs, messages...)
}

func (b *mailBackendMock) count() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.msgs)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type testEnv struct {
	svc      *content.Service
	repo     content.Repository
	userRepo user.Repository
	mailMock *mailBackendMock
	conf     *core.Config
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	conf := &core.Config{
		FrontendBaseURL: "http://localhost:3000",
		Review:          core.ReviewConfig{ClaimTimeout: 48 * time.Hour},
	}
	userRepo := inmemdb.NewUserRepository()
	repo := inmemdb.NewSubmissionRepository()
	mailMock := &mailBackendMock{}
	userSvc := user.NewService(userRepo, mailMock, conf)
	svc := content.NewService(repo, userSvc, mailMock, nopLogger{}, conf)
	return &testEnv{svc: svc, repo: repo, userRepo: userRepo, mailMock: mailMock, conf: conf}
}

func (env *testEnv) createUser(t *testing.T, name string, roles ...string) user.User {
	t.Helper()
	usr := user.User{Name: name, Username: name, Email: name + "@test.darasa", Roles: roles}
	usr.SetActive(true)
	usr, err := env.userRepo.CreateUser(context.Background(), usr)
	require.NoError(t, err)
	return usr
}

func mockNow(t *testing.T, at time.Time) *time.Time {
	t.Helper()
	now := at
	origNowFunc := content.NowFunc
	content.NowFunc = func() time.Time { return now }
	t.Cleanup(func() { content.NowFunc = origNowFunc })
	return &now
}

func TestSubmissionLifecycle(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	now := mockNow(t, time.Date(2021, 6, 1, 9, 0, 0, 0, time.UTC))

	author := env.createUser(t, "jane", user.RoleInstructor)
	reviewer := env.createUser(t, "admin", user.RoleAdmin)

	// draft
	sub, err := env.svc.CreateDraft(ctx, author, content.NewSubmission{
		ContentType: content.TypeCourse,
		Title:       "GST Basics",
		Description: "Introductory tax course",
		Category:    "Finance",
		Tags:        []string{"tax", "gst"},
	})
	require.NoError(t, err)
	assert.Equal(t, content.StatusDraft, sub.Status)
	assert.Equal(t, user.RoleInstructor, sub.AuthorRole)
	assert.Equal(t, content.PriorityMedium, sub.Priority)
	assert.Equal(t, 1, sub.Version)
	assert.True(t, sub.SubmittedAt.IsZero())

	// submit
	sub, err = env.svc.Submit(ctx, author, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, content.StatusPendingReview, sub.Status)
	assert.Equal(t, *now, sub.SubmittedAt)
	assert.Equal(t, 1, env.mailMock.count()) // submission receipt

	// claim
	*now = now.Add(time.Hour)
	sub, err = env.svc.Claim(ctx, reviewer, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, content.StatusUnderReview, sub.Status)
	assert.Equal(t, reviewer.ID, sub.ReviewerID)
	assert.Equal(t, *now, sub.ClaimedAt)

	// request revision
	sub, err = env.svc.RequestRevision(ctx, reviewer, sub.ID, "Add a section on input credits")
	require.NoError(t, err)
	assert.Equal(t, content.StatusRevisionRequested, sub.Status)
	assert.True(t, sub.DecidedAt.IsZero())
	require.Len(t, sub.Feedback, 1)
	assert.Equal(t, reviewer.ID, sub.Feedback[0].AuthorID)
	assert.Equal(t, "Add a section on input credits", sub.Feedback[0].Body)

	// author revises and resubmits
	sub, err = env.svc.Update(ctx, author, sub.ID, content.UpdateSubmission{
		Description: "Introductory tax course, now with input credits",
	})
	require.NoError(t, err)
	firstSubmittedAt := sub.SubmittedAt
	*now = now.Add(time.Hour)
	sub, err = env.svc.Resubmit(ctx, author, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, content.StatusPendingReview, sub.Status)
	assert.Empty(t, sub.ReviewerID)
	assert.True(t, sub.SubmittedAt.After(firstSubmittedAt))

	// approve
	_, err = env.svc.Claim(ctx, reviewer, sub.ID)
	require.NoError(t, err)
	sub, err = env.svc.Approve(ctx, reviewer, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, content.StatusApproved, sub.Status)
	assert.Equal(t, *now, sub.DecidedAt)
	require.Len(t, sub.Feedback, 1) // trail untouched by approval

	// 4 author notifications: submit, revision, resubmit, approve
	assert.Equal(t, 4, env.mailMock.count())
}

func TestCreateDraftPermissions(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	blogger := env.createUser(t, "bob", user.RoleBlogger)
	student := env.createUser(t, "sam", user.RoleStudent)

	_, err := env.svc.CreateDraft(ctx, blogger, content.NewSubmission{ContentType: content.TypeCourse, Title: "Nope"})
	assert.Equal(t, content.ErrPermissionDenied, err)

	_, err = env.svc.CreateDraft(ctx, student, content.NewSubmission{ContentType: content.TypeBlogPost, Title: "Nope"})
	assert.Equal(t, content.ErrPermissionDenied, err)

	sub, err := env.svc.CreateDraft(ctx, student, content.NewSubmission{
		ContentType: content.TypeInstructorApplication, Title: "Let me teach",
	})
	require.NoError(t, err)
	assert.Equal(t, user.RoleStudent, sub.AuthorRole)
}

func TestSubmitGuards(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	author := env.createUser(t, "jane", user.RoleInstructor)
	other := env.createUser(t, "imposter", user.RoleInstructor)

	sub, err := env.svc.CreateDraft(ctx, author, content.NewSubmission{ContentType: content.TypeCourse, Title: "Go 101"})
	require.NoError(t, err)

	// only the author may submit
	_, err = env.svc.Submit(ctx, other, sub.ID)
	assert.Equal(t, content.ErrPermissionDenied, err)

	sub, err = env.svc.Submit(ctx, author, sub.ID)
	require.NoError(t, err)

	// double submit is an invalid transition
	_, err = env.svc.Submit(ctx, author, sub.ID)
	var stateErr *content.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, content.StatusPendingReview, stateErr.Status)

	// resubmit only applies to revision_requested
	_, err = env.svc.Resubmit(ctx, author, sub.ID)
	assert.ErrorAs(t, err, &stateErr)
}

func TestClaimGuards(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	author := env.createUser(t, "jane", user.RoleInstructor)
	reviewer := env.createUser(t, "admin", user.RoleAdmin)

	sub, err := env.svc.CreateDraft(ctx, author, content.NewSubmission{ContentType: content.TypeCourse, Title: "Go 101"})
	require.NoError(t, err)

	// authors are not reviewers
	_, err = env.svc.Claim(ctx, author, sub.ID)
	assert.Equal(t, content.ErrPermissionDenied, err)

	// drafts are not claimable
	_, err = env.svc.Claim(ctx, reviewer, sub.ID)
	var stateErr *content.InvalidStateError
	assert.ErrorAs(t, err, &stateErr)
}

func TestRejectRequiresFeedback(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	author := env.createUser(t, "jane", user.RoleInstructor)
	reviewer := env.createUser(t, "admin", user.RoleAdmin)

	sub, err := env.svc.CreateDraft(ctx, author, content.NewSubmission{ContentType: content.TypeCourse, Title: "Go 101"})
	require.NoError(t, err)
	_, err = env.svc.Submit(ctx, author, sub.ID)
	require.NoError(t, err)
	_, err = env.svc.Claim(ctx, reviewer, sub.ID)
	require.NoError(t, err)

	_, err = env.svc.Reject(ctx, reviewer, sub.ID, "  ")
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)

	// still under review
	got, err := env.svc.Get(ctx, reviewer, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, content.StatusUnderReview, got.Status)
	assert.Empty(t, got.Feedback)

	_, err = env.svc.RequestRevision(ctx, reviewer, sub.ID, "")
	assert.ErrorAs(t, err, &vErr)
}

func TestDecisionsAreFinal(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	author := env.createUser(t, "jane", user.RoleInstructor)
	reviewer := env.createUser(t, "admin", user.RoleAdmin)

	sub, err := env.svc.CreateDraft(ctx, author, content.NewSubmission{ContentType: content.TypeCourse, Title: "Go 101"})
	require.NoError(t, err)
	_, err = env.svc.Submit(ctx, author, sub.ID)
	require.NoError(t, err)
	_, err = env.svc.Claim(ctx, reviewer, sub.ID)
	require.NoError(t, err)
	_, err = env.svc.Approve(ctx, reviewer, sub.ID)
	require.NoError(t, err)

	var stateErr *content.InvalidStateError
	_, err = env.svc.Approve(ctx, reviewer, sub.ID)
	assert.ErrorAs(t, err, &stateErr)
	_, err = env.svc.Reject(ctx, reviewer, sub.ID, "too late")
	assert.ErrorAs(t, err, &stateErr)
	_, err = env.svc.Submit(ctx, author, sub.ID)
	assert.ErrorAs(t, err, &stateErr)
}

func TestVersionConflict(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	author := env.createUser(t, "jane", user.RoleInstructor)
	sub, err := env.svc.CreateDraft(ctx, author, content.NewSubmission{ContentType: content.TypeCourse, Title: "Go 101"})
	require.NoError(t, err)

	// two writers race on the same version; the second write is stale
	stale := sub
	sub.Description = "first writer"
	_, err = env.repo.UpdateSubmission(ctx, sub, sub.Version)
	require.NoError(t, err)

	stale.Description = "second writer"
	_, err = env.repo.UpdateSubmission(ctx, stale, stale.Version)
	assert.Equal(t, content.ErrVersionConflict, err)
}

func TestQueryFIFOOrdering(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	now := mockNow(t, time.Date(2021, 6, 1, 9, 0, 0, 0, time.UTC))

	author := env.createUser(t, "jane", user.RoleInstructor)

	titles := []string{"first", "second", "third"}
	for _, title := range titles {
		sub, err := env.svc.CreateDraft(ctx, author, content.NewSubmission{ContentType: content.TypeCourse, Title: title})
		require.NoError(t, err)
		_, err = env.svc.Submit(ctx, author, sub.ID)
		require.NoError(t, err)
		*now = now.Add(time.Minute)
	}

	subs, err := env.svc.Query(ctx, &content.QueryFilter{Statuses: []content.Status{content.StatusPendingReview}}, nil, nil)
	require.NoError(t, err)
	require.Len(t, subs, 3)
	for i, title := range titles {
		assert.Equal(t, title, subs[i].Title)
	}
}

func TestQueryCatalogOnlyApproved(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	author := env.createUser(t, "jane", user.RoleInstructor)
	reviewer := env.createUser(t, "admin", user.RoleAdmin)

	draft, err := env.svc.CreateDraft(ctx, author, content.NewSubmission{ContentType: content.TypeCourse, Title: "wip"})
	require.NoError(t, err)

	approved, err := env.svc.CreateDraft(ctx, author, content.NewSubmission{ContentType: content.TypeCourse, Title: "done"})
	require.NoError(t, err)
	_, err = env.svc.Submit(ctx, author, approved.ID)
	require.NoError(t, err)
	_, err = env.svc.Claim(ctx, reviewer, approved.ID)
	require.NoError(t, err)
	_, err = env.svc.Approve(ctx, reviewer, approved.ID)
	require.NoError(t, err)

	subs, err := env.svc.QueryCatalog(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, approved.ID, subs[0].ID)

	// visibility follows suit
	stranger := env.createUser(t, "visitor", user.RoleStudent)
	_, err = env.svc.Get(ctx, stranger, approved.ID)
	assert.NoError(t, err)
	_, err = env.svc.Get(ctx, stranger, draft.ID)
	assert.Equal(t, content.ErrNotFound, err)
}

func TestQueueCounts(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	author := env.createUser(t, "jane", user.RoleInstructor)

	for i := 0; i < 2; i++ {
		sub, err := env.svc.CreateDraft(ctx, author, content.NewSubmission{ContentType: content.TypeCourse, Title: "c"})
		require.NoError(t, err)
		_, err = env.svc.Submit(ctx, author, sub.ID)
		require.NoError(t, err)
	}
	_, err := env.svc.CreateDraft(ctx, author, content.NewSubmission{ContentType: content.TypeCourse, Title: "d"})
	require.NoError(t, err)

	counts, err := env.svc.QueueCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[content.StatusPendingReview])
	assert.Equal(t, 1, counts[content.StatusDraft])
	assert.Equal(t, 0, counts[content.StatusApproved])
}

func TestBulkDecide(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	author := env.createUser(t, "jane", user.RoleInstructor)
	reviewer := env.createUser(t, "admin", user.RoleAdmin)

	var ids []string
	for i := 0; i < 2; i++ {
		sub, err := env.svc.CreateDraft(ctx, author, content.NewSubmission{ContentType: content.TypeCourse, Title: "c"})
		require.NoError(t, err)
		_, err = env.svc.Submit(ctx, author, sub.ID)
		require.NoError(t, err)
		_, err = env.svc.Claim(ctx, reviewer, sub.ID)
		require.NoError(t, err)
		ids = append(ids, sub.ID)
	}
	// one unclaimed item fails independently
	pending, err := env.svc.CreateDraft(ctx, author, content.NewSubmission{ContentType: content.TypeCourse, Title: "p"})
	require.NoError(t, err)
	_, err = env.svc.Submit(ctx, author, pending.ID)
	require.NoError(t, err)
	ids = append(ids, pending.ID)

	results := env.svc.BulkDecide(ctx, reviewer, content.BulkDecision{IDs: ids, Action: content.ActionApprove})
	require.Len(t, results, 3)
	assert.Equal(t, content.StatusApproved, results[0].Status)
	assert.Empty(t, results[0].Error)
	assert.Equal(t, content.StatusApproved, results[1].Status)
	assert.NotEmpty(t, results[2].Error)
}

func TestDelete(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	author := env.createUser(t, "jane", user.RoleInstructor)
	reviewer := env.createUser(t, "admin", user.RoleAdmin)
	stranger := env.createUser(t, "sam", user.RoleInstructor)

	sub, err := env.svc.CreateDraft(ctx, author, content.NewSubmission{ContentType: content.TypeCourse, Title: "c"})
	require.NoError(t, err)

	assert.Equal(t, content.ErrPermissionDenied, env.svc.Delete(ctx, stranger, sub.ID))
	assert.NoError(t, env.svc.Delete(ctx, author, sub.ID))

	// approved content cannot be deleted, even by admins
	sub, err = env.svc.CreateDraft(ctx, author, content.NewSubmission{ContentType: content.TypeCourse, Title: "c2"})
	require.NoError(t, err)
	_, err = env.svc.Submit(ctx, author, sub.ID)
	require.NoError(t, err)
	_, err = env.svc.Claim(ctx, reviewer, sub.ID)
	require.NoError(t, err)
	_, err = env.svc.Approve(ctx, reviewer, sub.ID)
	require.NoError(t, err)

	var stateErr *content.InvalidStateError
	assert.ErrorAs(t, env.svc.Delete(ctx, reviewer, sub.ID), &stateErr)
}

func TestReclaimStale(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	now := mockNow(t, time.Date(2021, 6, 1, 9, 0, 0, 0, time.UTC))

	author := env.createUser(t, "jane", user.RoleInstructor)
	reviewer := env.createUser(t, "admin", user.RoleAdmin)

	stale, err := env.svc.CreateDraft(ctx, author, content.NewSubmission{ContentType: content.TypeCourse, Title: "stale"})
	require.NoError(t, err)
	_, err = env.svc.Submit(ctx, author, stale.ID)
	require.NoError(t, err)
	stale, err = env.svc.Claim(ctx, reviewer, stale.ID)
	require.NoError(t, err)
	submittedAt := stale.SubmittedAt

	// a fresh claim stays put
	*now = now.Add(47 * time.Hour)
	fresh, err := env.svc.CreateDraft(ctx, author, content.NewSubmission{ContentType: content.TypeCourse, Title: "fresh"})
	require.NoError(t, err)
	_, err = env.svc.Submit(ctx, author, fresh.ID)
	require.NoError(t, err)
	_, err = env.svc.Claim(ctx, reviewer, fresh.ID)
	require.NoError(t, err)

	*now = now.Add(2 * time.Hour) // stale claim is now 49h old
	reclaimed, err := env.svc.ReclaimStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	got, err := env.svc.Get(ctx, reviewer, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, content.StatusPendingReview, got.Status)
	assert.Empty(t, got.ReviewerID)
	assert.True(t, got.ClaimedAt.IsZero())
	assert.Equal(t, submittedAt, got.SubmittedAt) // keeps its place in the queue

	got, err = env.svc.Get(ctx, reviewer, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, content.StatusUnderReview, got.Status)
}

func TestSetPriority(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	author := env.createUser(t, "jane", user.RoleInstructor)
	reviewer := env.createUser(t, "admin", user.RoleAdmin)

	sub, err := env.svc.CreateDraft(ctx, author, content.NewSubmission{ContentType: content.TypeCourse, Title: "c"})
	require.NoError(t, err)

	_, err = env.svc.SetPriority(ctx, author, sub.ID, content.PriorityHigh)
	assert.Equal(t, content.ErrPermissionDenied, err)

	sub, err = env.svc.SetPriority(ctx, reviewer, sub.ID, content.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, content.PriorityHigh, sub.Priority)

	var vErr *core.ValidationError
	_, err = env.svc.SetPriority(ctx, reviewer, sub.ID, "urgent")
	assert.ErrorAs(t, err, &vErr)
}
