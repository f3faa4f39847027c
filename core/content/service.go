package content

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

var (
	// errors
	ErrNotFound         = errors.New("submission not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrVersionConflict  = errors.New("submission was modified concurrently; reload and retry")

	errFeedbackRequired = "feedback explaining the decision is required"

	NowFunc = time.Now // mockable
)

// InvalidStateError is returned when an operation is not permitted from the
// submission's current status.
type InvalidStateError struct {
	Op     string
	Status Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s a submission in status %q", e.Op, e.Status)
}

type (
	Repository interface {
		CreateSubmission(ctx context.Context, sub Submission) (Submission, error)
		GetSubmission(ctx context.Context, id string) (Submission, error)
		// QuerySubmissions applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of Submission.Title,
		// Submission.Description or Submission.Category.
		QuerySubmissions(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page *core.Pagination) ([]Submission, error)
		// UpdateSubmission persists sub only if the stored version still equals
		// expectedVersion, bumping the version by one; it returns ErrVersionConflict
		// on a stale write. Feedback entries beyond the stored count are appended;
		// existing entries are never touched.
		UpdateSubmission(ctx context.Context, sub Submission, expectedVersion int) (Submission, error)
		DeleteSubmissionsByID(ctx context.Context, ids ...string) (int, error)
		CountSubmissionsByStatus(ctx context.Context) (map[Status]int, error)
	}

	// UserDirectory resolves author IDs for notifications.
	UserDirectory interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	ServiceInterface interface {
		CreateDraft(ctx context.Context, actor user.User, ns NewSubmission) (Submission, error)
		Update(ctx context.Context, actor user.User, id string, us UpdateSubmission) (Submission, error)
		Submit(ctx context.Context, actor user.User, id string) (Submission, error)
		Resubmit(ctx context.Context, actor user.User, id string) (Submission, error)
		Claim(ctx context.Context, actor user.User, id string) (Submission, error)
		Approve(ctx context.Context, actor user.User, id string) (Submission, error)
		Reject(ctx context.Context, actor user.User, id, feedback string) (Submission, error)
		RequestRevision(ctx context.Context, actor user.User, id, feedback string) (Submission, error)
		SetPriority(ctx context.Context, actor user.User, id string, priority Priority) (Submission, error)
		BulkDecide(ctx context.Context, actor user.User, bd BulkDecision) []DecideResult
		Get(ctx context.Context, actor user.User, id string) (Submission, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page *core.Pagination) ([]Submission, error)
		QueryCatalog(ctx context.Context, filter *QueryFilter, page *core.Pagination) ([]Submission, error)
		QueueCounts(ctx context.Context) (map[Status]int, error)
		Delete(ctx context.Context, actor user.User, ids ...string) error
		ReclaimStale(ctx context.Context) (int, error)
	}

	Service struct {
		repo    Repository
		users   UserDirectory
		mailSvc core.EmailService
		logger  core.Logger
		conf    *core.Config
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(repo Repository, users UserDirectory, mailSvc core.EmailService, logger core.Logger, conf *core.Config) *Service {
	return &Service{
		repo:    repo,
		users:   users,
		mailSvc: mailSvc,
		logger:  logger,
		conf:    conf,
	}
}

func (svc *Service) CreateDraft(ctx context.Context, actor user.User, ns NewSubmission) (Submission, error) {
	role := AuthorRoleFor(actor, ns.ContentType)
	if role == "" {
		return Submission{}, ErrPermissionDenied
	}

	now := NowFunc().UTC()
	sub := Submission{
		ContentType: ns.ContentType,
		Title:       ns.Title,
		Description: ns.Description,
		Category:    ns.Category,
		Tags:        ns.Tags,
		AuthorID:    actor.ID,
		AuthorRole:  role,
		Priority:    PriorityMedium,
		Status:      StatusDraft,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return svc.repo.CreateSubmission(ctx, sub)
}

func (svc *Service) Update(ctx context.Context, actor user.User, id string, us UpdateSubmission) (Submission, error) {
	sub, err := svc.repo.GetSubmission(ctx, id)
	if err != nil {
		return Submission{}, err
	}
	if !sub.IsAuthor(actor) {
		return Submission{}, ErrPermissionDenied
	}
	if !sub.Editable() {
		return Submission{}, &InvalidStateError{Op: "edit", Status: sub.Status}
	}

	sub.Title = us.Title
	sub.Description = us.Description
	sub.Category = us.Category
	sub.Tags = us.Tags
	sub.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateSubmission(ctx, sub, sub.Version)
}

func (svc *Service) Submit(ctx context.Context, actor user.User, id string) (Submission, error) {
	return svc.submit(ctx, actor, id, StatusDraft, StatusRevisionRequested)
}

// Resubmit sends a revised submission back to the pending queue.
func (svc *Service) Resubmit(ctx context.Context, actor user.User, id string) (Submission, error) {
	return svc.submit(ctx, actor, id, StatusRevisionRequested)
}

func (svc *Service) submit(ctx context.Context, actor user.User, id string, allowedFrom ...Status) (Submission, error) {
	sub, err := svc.repo.GetSubmission(ctx, id)
	if err != nil {
		return Submission{}, err
	}
	if !sub.IsAuthor(actor) {
		return Submission{}, ErrPermissionDenied
	}
	var ok bool
	for _, s := range allowedFrom {
		if sub.Status == s {
			ok = true
			break
		}
	}
	if !ok {
		return Submission{}, &InvalidStateError{Op: "submit", Status: sub.Status}
	}
	if core.CleanString(sub.Title) == "" {
		return Submission{}, core.NewValidationError(
			errors.New("a title is required before submitting"),
			core.FieldError{Field: "title", Error: "this field is required"},
		)
	}

	now := NowFunc().UTC()
	sub.Status = StatusPendingReview
	sub.SubmittedAt = now
	sub.ReviewerID = "" // re-enter the unclaimed queue
	sub.ClaimedAt = time.Time{}
	sub.UpdatedAt = now

	sub, err = svc.repo.UpdateSubmission(ctx, sub, sub.Version)
	if err != nil {
		return Submission{}, err
	}
	svc.notifyAuthor(ctx, sub, "Submission received",
		fmt.Sprintf("Your %s %q has been submitted and is awaiting review.", sub.ContentType, sub.Title))
	return sub, nil
}

// Claim takes ownership of a pending submission for review. The version check
// in the repository makes the claim atomic: of two concurrent claimers,
// exactly one wins and the other gets ErrVersionConflict.
func (svc *Service) Claim(ctx context.Context, actor user.User, id string) (Submission, error) {
	if !actor.IsReviewer() {
		return Submission{}, ErrPermissionDenied
	}
	sub, err := svc.repo.GetSubmission(ctx, id)
	if err != nil {
		return Submission{}, err
	}
	if sub.Status != StatusPendingReview {
		return Submission{}, &InvalidStateError{Op: "claim", Status: sub.Status}
	}

	now := NowFunc().UTC()
	sub.Status = StatusUnderReview
	sub.ReviewerID = actor.ID
	sub.ClaimedAt = now
	sub.UpdatedAt = now
	return svc.repo.UpdateSubmission(ctx, sub, sub.Version)
}

func (svc *Service) Approve(ctx context.Context, actor user.User, id string) (Submission, error) {
	sub, err := svc.decide(ctx, actor, id, StatusApproved, "")
	if err != nil {
		return Submission{}, err
	}
	svc.notifyAuthor(ctx, sub, "Submission approved",
		fmt.Sprintf("Congratulations! Your %s %q has been approved and is now published.", sub.ContentType, sub.Title))
	return sub, nil
}

func (svc *Service) Reject(ctx context.Context, actor user.User, id, feedback string) (Submission, error) {
	sub, err := svc.decide(ctx, actor, id, StatusRejected, feedback)
	if err != nil {
		return Submission{}, err
	}
	svc.notifyAuthor(ctx, sub, "Submission rejected",
		fmt.Sprintf("Your %s %q has been rejected. Reviewer feedback: %s", sub.ContentType, sub.Title, feedback))
	return sub, nil
}

func (svc *Service) RequestRevision(ctx context.Context, actor user.User, id, feedback string) (Submission, error) {
	sub, err := svc.decide(ctx, actor, id, StatusRevisionRequested, feedback)
	if err != nil {
		return Submission{}, err
	}
	svc.notifyAuthor(ctx, sub, "Revision requested",
		fmt.Sprintf("A reviewer has requested changes to your %s %q: %s", sub.ContentType, sub.Title, feedback))
	return sub, nil
}

// decide applies a reviewer decision. Rejections and revision requests must
// carry feedback; approvals must not. Any reviewer may decide, not only the
// claimer: abandoned claims are taken over (the recorded reviewer is updated).
func (svc *Service) decide(ctx context.Context, actor user.User, id string, to Status, feedback string) (Submission, error) {
	if !actor.IsReviewer() {
		return Submission{}, ErrPermissionDenied
	}
	feedback = core.CleanString(feedback)
	if to != StatusApproved && feedback == "" {
		return Submission{}, core.NewValidationError(
			errors.New(errFeedbackRequired),
			core.FieldError{Field: "feedback", Error: errFeedbackRequired},
		)
	}

	sub, err := svc.repo.GetSubmission(ctx, id)
	if err != nil {
		return Submission{}, err
	}
	if sub.Status != StatusUnderReview {
		return Submission{}, &InvalidStateError{Op: opFor(to), Status: sub.Status}
	}

	now := NowFunc().UTC()
	sub.Status = to
	sub.ReviewerID = actor.ID
	sub.UpdatedAt = now
	if to == StatusApproved || to == StatusRejected {
		sub.DecidedAt = now
	}
	if feedback != "" {
		sub.Feedback = append(sub.Feedback, FeedbackEntry{
			AuthorID:  actor.ID,
			Body:      feedback,
			CreatedAt: now,
		})
	}
	return svc.repo.UpdateSubmission(ctx, sub, sub.Version)
}

func opFor(to Status) string {
	switch to {
	case StatusApproved:
		return "approve"
	case StatusRejected:
		return "reject"
	case StatusRevisionRequested:
		return "request revision on"
	}
	return "decide"
}

func (svc *Service) SetPriority(ctx context.Context, actor user.User, id string, priority Priority) (Submission, error) {
	if !actor.IsReviewer() {
		return Submission{}, ErrPermissionDenied
	}
	if !priority.Valid() {
		return Submission{}, core.NewValidationError(
			errors.New(priorityText),
			core.FieldError{Field: "priority", Error: priorityText},
		)
	}
	sub, err := svc.repo.GetSubmission(ctx, id)
	if err != nil {
		return Submission{}, err
	}
	if sub.Status.Terminal() {
		return Submission{}, &InvalidStateError{Op: "prioritize", Status: sub.Status}
	}

	sub.Priority = priority
	sub.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateSubmission(ctx, sub, sub.Version)
}

// BulkDecide applies the same decision to a set of submissions; each item
// succeeds or fails independently.
func (svc *Service) BulkDecide(ctx context.Context, actor user.User, bd BulkDecision) []DecideResult {
	results := make([]DecideResult, 0, len(bd.IDs))
	for _, id := range bd.IDs {
		var sub Submission
		var err error
		switch bd.Action {
		case ActionReject:
			sub, err = svc.Reject(ctx, actor, id, bd.Feedback)
		default:
			sub, err = svc.Approve(ctx, actor, id)
		}
		res := DecideResult{ID: id}
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Status = sub.Status
		}
		results = append(results, res)
	}
	return results
}

// Get returns a submission visible to actor: authors see their own,
// reviewers see all, anyone sees approved content. Anything else is reported
// as not found rather than forbidden.
func (svc *Service) Get(ctx context.Context, actor user.User, id string) (Submission, error) {
	sub, err := svc.repo.GetSubmission(ctx, id)
	if err != nil {
		return Submission{}, err
	}
	if sub.IsAuthor(actor) || actor.IsReviewer() || sub.Status == StatusApproved {
		return sub, nil
	}
	return Submission{}, ErrNotFound
}

// Query returns submissions ordered oldest-submitted-first by default
// so review queues are triaged first-in-first-out.
func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page *core.Pagination) ([]Submission, error) {
	if ordering == nil {
		ordering = []core.DBOrdering{{Field: "submitted_at", Ascending: true}}
	}
	return svc.repo.QuerySubmissions(ctx, filter, ordering, page)
}

// QueryCatalog is the public listing: approved submissions only, newest first.
func (svc *Service) QueryCatalog(ctx context.Context, filter *QueryFilter, page *core.Pagination) ([]Submission, error) {
	if filter == nil {
		filter = &QueryFilter{}
	}
	filter.Statuses = []Status{StatusApproved}
	ordering := []core.DBOrdering{{Field: "decided_at", Ascending: false}}
	return svc.repo.QuerySubmissions(ctx, filter, ordering, page)
}

func (svc *Service) QueueCounts(ctx context.Context) (map[Status]int, error) {
	return svc.repo.CountSubmissionsByStatus(ctx)
}

// Delete removes submissions. Approved content is retained for audit and
// learner access and cannot be deleted.
func (svc *Service) Delete(ctx context.Context, actor user.User, ids ...string) error {
	for _, id := range ids {
		sub, err := svc.repo.GetSubmission(ctx, id)
		if err != nil {
			return err
		}
		if !(sub.IsAuthor(actor) || actor.IsAdmin()) {
			return ErrPermissionDenied
		}
		if sub.Status == StatusApproved {
			return &InvalidStateError{Op: "delete", Status: sub.Status}
		}
	}
	_, err := svc.repo.DeleteSubmissionsByID(ctx, ids...)
	return err
}

// ReclaimStale returns submissions whose claim is older than the configured
// timeout to the pending queue, clearing the reviewer. SubmittedAt is kept so
// reclaimed items retain their place in the FIFO queue.
func (svc *Service) ReclaimStale(ctx context.Context) (int, error) {
	cutoff := NowFunc().UTC().Add(-svc.conf.Review.ClaimTimeout)
	stale, err := svc.repo.QuerySubmissions(ctx, &QueryFilter{
		Statuses:      []Status{StatusUnderReview},
		ClaimedBefore: cutoff,
	}, nil, nil)
	if err != nil {
		return 0, errors.Wrap(err, "querying stale claims")
	}

	var reclaimed int
	for _, sub := range stale {
		sub.Status = StatusPendingReview
		sub.ReviewerID = ""
		sub.ClaimedAt = time.Time{}
		sub.UpdatedAt = NowFunc().UTC()
		if _, err = svc.repo.UpdateSubmission(ctx, sub, sub.Version); err != nil {
			// a reviewer beat us to a decision; leave it be
			if errors.Cause(err) == ErrVersionConflict {
				continue
			}
			return reclaimed, errors.Wrap(err, "reclaiming submission")
		}
		reclaimed++
	}
	return reclaimed, nil
}

// notifyAuthor emails the submission's author. Best-effort: a notification
// failure never affects the transition that triggered it.
func (svc *Service) notifyAuthor(ctx context.Context, sub Submission, subject, body string) {
	author, err := svc.users.GetByID(ctx, sub.AuthorID)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("resolving author %s for notification: %v", sub.AuthorID, err))
		return
	}
	if author.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: author.Name, Address: author.Email}},
		Subject:      subject,
		TemplateName: "submission-update",
		TemplateData: struct {
			Submission Submission
			Body       string
		}{sub, body},
		BodyStr: body,
	})
}
