package content

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

// Content types
const (
	TypeCourse                = "course"
	TypeBlogPost              = "blog_post"
	TypeWebinar               = "webinar"
	TypePodcast               = "podcast"
	TypeInstructorApplication = "instructor_application"
)

var AllContentTypes = []string{TypeCourse, TypeBlogPost, TypeWebinar, TypePodcast, TypeInstructorApplication}

// authorRolesByType maps a content type to the roles allowed to author it.
// Admins may author anything.
var authorRolesByType = map[string][]string{
	TypeCourse:                {user.RoleInstructor},
	TypeWebinar:               {user.RoleInstructor, user.RoleContentWriter},
	TypePodcast:               {user.RoleInstructor, user.RoleContentWriter},
	TypeBlogPost:              {user.RoleBlogger, user.RoleContentWriter},
	TypeInstructorApplication: {user.RoleStudent},
}

// AuthorRoleFor returns the role under which usr may author contentType; "" if none.
func AuthorRoleFor(usr user.User, contentType string) string {
	if usr.IsAdmin() {
		return user.RoleAdmin
	}
	for _, role := range authorRolesByType[contentType] {
		if usr.HasRole(role) {
			return role
		}
	}
	return ""
}

// Review statuses
type Status string

const (
	StatusDraft             Status = "draft"
	StatusPendingReview     Status = "pending_review"
	StatusUnderReview       Status = "under_review"
	StatusApproved          Status = "approved"
	StatusRejected          Status = "rejected"
	StatusRevisionRequested Status = "revision_requested"
)

var AllStatuses = []Status{
	StatusDraft, StatusPendingReview, StatusUnderReview,
	StatusApproved, StatusRejected, StatusRevisionRequested,
}

// transitions is the review state machine. under_review -> pending_review is
// the reclaim edge: an abandoned claim is returned to the queue.
var transitions = map[Status][]Status{
	StatusDraft:             {StatusPendingReview},
	StatusPendingReview:     {StatusUnderReview},
	StatusUnderReview:       {StatusApproved, StatusRejected, StatusRevisionRequested, StatusPendingReview},
	StatusRevisionRequested: {StatusPendingReview},
	StatusApproved:          {},
	StatusRejected:          {},
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transition is defined from s.
func (s Status) Terminal() bool { return s.Valid() && len(transitions[s]) == 0 }

func (s Status) CanTransitionTo(to Status) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Priorities, set by reviewers to order their queues.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

var AllPriorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

func (p Priority) Valid() bool {
	for _, known := range AllPriorities {
		if p == known {
			return true
		}
	}
	return false
}

// FeedbackEntry is one reviewer note on a submission. The feedback trail is
// append-only: entries are never mutated or deleted.
type FeedbackEntry struct {
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"` // UTC
}

// Submission is a unit of content moving through the review pipeline.
type Submission struct {
	ID          string          `json:"id"`
	ContentType string          `json:"content_type"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	AuthorID    string          `json:"author_id"`
	AuthorRole  string          `json:"author_role"`
	Category    string          `json:"category"`
	Tags        []string        `json:"tags"`
	Priority    Priority        `json:"priority"`
	Status      Status          `json:"status"`
	Version     int             `json:"version"`
	SubmittedAt time.Time       `json:"submitted_at"` // UTC; zero until first submitted
	ClaimedAt   time.Time       `json:"claimed_at"`   // UTC; zero unless under review
	ReviewerID  string          `json:"reviewer_id"`
	Feedback    []FeedbackEntry `json:"feedback"`
	DecidedAt   time.Time       `json:"decided_at"` // UTC; zero until approved/rejected
	CreatedAt   time.Time       `json:"created_at"` // UTC
	UpdatedAt   time.Time       `json:"updated_at"` // UTC
}

func (s *Submission) IsAuthor(usr user.User) bool { return s.AuthorID == usr.ID }

// Editable reports whether the author may still mutate title/description/category/tags.
func (s *Submission) Editable() bool {
	return s.Status == StatusDraft || s.Status == StatusRevisionRequested
}

// NewSubmission contains information needed to create a new draft Submission.
type NewSubmission struct {
	ContentType string   `json:"content_type" validate:"required,contenttype"`
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
}

func (ns *NewSubmission) Validate(validate *validator.Validate) error {
	ns.ContentType = core.CleanString(ns.ContentType, true /* lower */)
	ns.Title = core.CleanString(ns.Title)
	ns.Description = core.CleanString(ns.Description)
	ns.Category = core.CleanString(ns.Category)
	return validate.Struct(ns)
}

// UpdateSubmission defines what an author may modify on an editable Submission.
// Blank fields keep their current value.
type UpdateSubmission struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
}

func (us *UpdateSubmission) Validate(orig Submission, validate *validator.Validate) error {
	if title := core.CleanString(us.Title); title != "" {
		us.Title = title
	} else {
		us.Title = orig.Title
	}
	if desc := core.CleanString(us.Description); desc != "" {
		us.Description = desc
	} else {
		us.Description = orig.Description
	}
	if cat := core.CleanString(us.Category); cat != "" {
		us.Category = cat
	} else {
		us.Category = orig.Category
	}
	if us.Tags == nil {
		us.Tags = orig.Tags
	}
	return validate.Struct(us)
}

// Bulk decisions
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

type BulkDecision struct {
	IDs      []string `json:"ids" validate:"required,min=1"`
	Action   string   `json:"action" validate:"required,decideaction"`
	Feedback string   `json:"feedback"`
}

func (bd *BulkDecision) Validate(validate *validator.Validate) error {
	bd.Action = core.CleanString(bd.Action, true /* lower */)
	bd.Feedback = core.CleanString(bd.Feedback)
	return validate.Struct(bd)
}

// DecideResult is the per-submission outcome of a bulk decision;
// each item succeeds or fails independently.
type DecideResult struct {
	ID     string `json:"id"`
	Status Status `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

type QueryFilter struct {
	Search        string    `query:"search"`
	Statuses      []Status  `query:"status"`
	ContentTypes  []string  `query:"content_type"`
	AuthorID      string    `query:"author_id"`
	ReviewerID    string    `query:"reviewer_id"`
	Priority      Priority  `query:"priority"`
	SubmittedFrom time.Time `query:"submitted_from"`
	SubmittedTo   time.Time `query:"submitted_to"`

	// ClaimedBefore selects submissions claimed before the given instant;
	// used by the stale-claim reclaimer, not bound from requests.
	ClaimedBefore time.Time `query:"-"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Statuses == nil && qf.ContentTypes == nil &&
		qf.AuthorID == "" && qf.ReviewerID == "" && qf.Priority == "" &&
		qf.SubmittedFrom.IsZero() && qf.SubmittedTo.IsZero() && qf.ClaimedBefore.IsZero()
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
