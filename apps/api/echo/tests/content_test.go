package tests

import (
	"encoding/json"
	"net/http"
	"strconv"
	"testing"

	"github.com/trezcool/darasa/core/content"
	"github.com/trezcool/darasa/core/user"
	testutil "github.com/trezcool/darasa/tests"
)

func decodeSubmission(t *testing.T, data []byte) content.Submission {
	t.Helper()
	var sub content.Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		t.Fatalf("unmarshalling submission: %v", err)
	}
	return sub
}

func Test_contentApi_create(t *testing.T) {
	student := testutil.CreateUser(t, usrRepo, "Sam Create", "sam.create", "sam.create@test.darasa", "", []string{user.RoleStudent}, true)
	instructor := testutil.CreateUser(t, usrRepo, "Ina Create", "ina.create", "ina.create@test.darasa", "", []string{user.RoleInstructor}, true)

	tests := []httpTest{
		{
			name: "auth required", body: marchallObj(t, content.NewSubmission{ContentType: content.TypeCourse, Title: "Intro"}),
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "content type required", token: getToken(t, instructor),
			body:     marchallObj(t, map[string]string{"title": "Intro"}),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "title required", token: getToken(t, instructor),
			body:     marchallObj(t, map[string]string{"content_type": content.TypeCourse}),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "unknown content type", token: getToken(t, instructor),
			body:     marchallObj(t, map[string]string{"content_type": "meme", "title": "Intro"}),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "role cannot author course", token: getToken(t, student),
			body:     marchallObj(t, content.NewSubmission{ContentType: content.TypeCourse, Title: "Intro"}),
			wantCode: http.StatusForbidden,
		},
		{
			name: "student can apply as instructor", token: getToken(t, student),
			body:     marchallObj(t, content.NewSubmission{ContentType: content.TypeInstructorApplication, Title: "Hire me"}),
			wantCode: http.StatusCreated,
		},
		{
			name: "instructor can author course", token: getToken(t, instructor),
			body:     marchallObj(t, content.NewSubmission{ContentType: content.TypeCourse, Title: "Intro to GST", Description: "Tax basics"}),
			wantCode: http.StatusCreated,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/content", tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCode(t, tt.wantCode, rec)

			if rec.Code == http.StatusCreated {
				sub := decodeSubmission(t, rec.Body.Bytes())
				if sub.Status != content.StatusDraft {
					t.Errorf("status = %v; want %v", sub.Status, content.StatusDraft)
				}
				if sub.Version != 1 {
					t.Errorf("version = %v; want 1", sub.Version)
				}
			}
		})
	}
}

func Test_contentApi_lifecycle(t *testing.T) {
	author := testutil.CreateUser(t, usrRepo, "Ina Cycle", "ina.cycle", "ina.cycle@test.darasa", "", []string{user.RoleInstructor}, true)
	reviewer := testutil.CreateUser(t, usrRepo, "Ada Cycle", "ada.cycle", "ada.cycle@test.darasa", "", []string{user.RoleAdmin}, true)
	authorTkn := getToken(t, author)
	reviewerTkn := getToken(t, reviewer)

	// draft
	req, rec := newAuthRequest(http.MethodPost, "/v1/content", authorTkn,
		marchallObj(t, content.NewSubmission{ContentType: content.TypeCourse, Title: "GST Basics"}))
	app.ServeHTTP(rec, req)
	checkCode(t, http.StatusCreated, rec)
	sub := decodeSubmission(t, rec.Body.Bytes())

	// submit
	req, rec = newAuthRequest(http.MethodPost, "/v1/content/"+sub.ID+"/submit", authorTkn)
	app.ServeHTTP(rec, req)
	checkCode(t, http.StatusOK, rec)
	sub = decodeSubmission(t, rec.Body.Bytes())
	if sub.Status != content.StatusPendingReview {
		t.Fatalf("status = %v; want %v", sub.Status, content.StatusPendingReview)
	}
	if sub.SubmittedAt.IsZero() {
		t.Error("expected submitted_at to be set")
	}

	// claim
	req, rec = newAuthRequest(http.MethodPost, "/v1/content/"+sub.ID+"/claim", reviewerTkn)
	app.ServeHTTP(rec, req)
	checkCode(t, http.StatusOK, rec)
	sub = decodeSubmission(t, rec.Body.Bytes())
	if sub.Status != content.StatusUnderReview {
		t.Fatalf("status = %v; want %v", sub.Status, content.StatusUnderReview)
	}
	if sub.ReviewerID != reviewer.ID {
		t.Errorf("reviewer_id = %v; want %v", sub.ReviewerID, reviewer.ID)
	}

	// request revision
	req, rec = newAuthRequest(http.MethodPost, "/v1/content/"+sub.ID+"/request-revision", reviewerTkn,
		marchallObj(t, map[string]string{"feedback": "needs examples"}))
	app.ServeHTTP(rec, req)
	checkCode(t, http.StatusOK, rec)
	sub = decodeSubmission(t, rec.Body.Bytes())
	if sub.Status != content.StatusRevisionRequested {
		t.Fatalf("status = %v; want %v", sub.Status, content.StatusRevisionRequested)
	}
	if len(sub.Feedback) != 1 || sub.Feedback[0].Body != "needs examples" {
		t.Errorf("feedback trail = %+v; want one entry", sub.Feedback)
	}

	// author revises and resubmits
	req, rec = newAuthRequest(http.MethodPut, "/v1/content/"+sub.ID, authorTkn,
		marchallObj(t, content.UpdateSubmission{Description: "now with examples"}))
	app.ServeHTTP(rec, req)
	checkCode(t, http.StatusOK, rec)

	req, rec = newAuthRequest(http.MethodPost, "/v1/content/"+sub.ID+"/resubmit", authorTkn)
	app.ServeHTTP(rec, req)
	checkCode(t, http.StatusOK, rec)
	sub = decodeSubmission(t, rec.Body.Bytes())
	if sub.Status != content.StatusPendingReview {
		t.Fatalf("status = %v; want %v", sub.Status, content.StatusPendingReview)
	}
	if sub.ReviewerID != "" {
		t.Errorf("expected reviewer_id to be cleared; got %v", sub.ReviewerID)
	}

	// claim & approve
	req, rec = newAuthRequest(http.MethodPost, "/v1/content/"+sub.ID+"/claim", reviewerTkn)
	app.ServeHTTP(rec, req)
	checkCode(t, http.StatusOK, rec)

	req, rec = newAuthRequest(http.MethodPost, "/v1/content/"+sub.ID+"/approve", reviewerTkn)
	app.ServeHTTP(rec, req)
	checkCode(t, http.StatusOK, rec)
	sub = decodeSubmission(t, rec.Body.Bytes())
	if sub.Status != content.StatusApproved {
		t.Fatalf("status = %v; want %v", sub.Status, content.StatusApproved)
	}
	if sub.DecidedAt.IsZero() {
		t.Error("expected decided_at to be set")
	}
	if etag := rec.Header().Get("ETag"); etag != strconv.Itoa(sub.Version) {
		t.Errorf("ETag = %q; want %q", etag, strconv.Itoa(sub.Version))
	}

	// decisions are final
	req, rec = newAuthRequest(http.MethodPost, "/v1/content/"+sub.ID+"/reject", reviewerTkn,
		marchallObj(t, map[string]string{"feedback": "changed my mind"}))
	app.ServeHTTP(rec, req)
	checkCode(t, http.StatusConflict, rec)
}

func Test_contentApi_reviewerGuards(t *testing.T) {
	student := testutil.CreateUser(t, usrRepo, "Sam Guard2", "sam.guard2", "sam.guard2@test.darasa", "", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, usrRepo, "Ada Guard2", "ada.guard2", "ada.guard2@test.darasa", "", []string{user.RoleAdmin}, true)
	sub := testutil.CreateSubmission(t, contentRepo, student, content.TypeInstructorApplication, "Guarded", content.StatusPendingReview)

	tests := []httpTest{
		{
			name: "queue listing needs reviewer", method: http.MethodGet, path: "/v1/content", token: getToken(t, student),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "counts need reviewer", method: http.MethodGet, path: "/v1/content/counts", token: getToken(t, student),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "claim needs reviewer", method: http.MethodPost, path: "/v1/content/" + sub.ID + "/claim", token: getToken(t, student),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("reviewer sees the queue", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/content?status=pending_review", getToken(t, admin))
		app.ServeHTTP(rec, req)
		checkCode(t, http.StatusOK, rec)

		var subs []content.Submission
		if err := json.Unmarshal(rec.Body.Bytes(), &subs); err != nil {
			t.Fatalf("unmarshalling submissions: %v", err)
		}
		found := false
		for _, s := range subs {
			if s.ID == sub.ID {
				found = true
			}
			if s.Status != content.StatusPendingReview {
				t.Errorf("unexpected status %v in filtered queue", s.Status)
			}
		}
		if !found {
			t.Errorf("expected submission %v in the pending queue", sub.ID)
		}
	})
}

func Test_contentApi_rejectNeedsFeedback(t *testing.T) {
	author := testutil.CreateUser(t, usrRepo, "Ina Reject", "ina.reject", "ina.reject@test.darasa", "", []string{user.RoleInstructor}, true)
	reviewer := testutil.CreateUser(t, usrRepo, "Ada Reject", "ada.reject", "ada.reject@test.darasa", "", []string{user.RoleAdmin}, true)
	sub := testutil.CreateSubmission(t, contentRepo, author, content.TypeCourse, "Rejectable", content.StatusUnderReview)
	reviewerTkn := getToken(t, reviewer)

	req, rec := newAuthRequest(http.MethodPost, "/v1/content/"+sub.ID+"/reject", reviewerTkn)
	app.ServeHTTP(rec, req)
	checkCode(t, http.StatusBadRequest, rec)

	req, rec = newAuthRequest(http.MethodPost, "/v1/content/"+sub.ID+"/reject", reviewerTkn,
		marchallObj(t, map[string]string{"feedback": "off topic"}))
	app.ServeHTTP(rec, req)
	checkCode(t, http.StatusOK, rec)
	got := decodeSubmission(t, rec.Body.Bytes())
	if got.Status != content.StatusRejected {
		t.Errorf("status = %v; want %v", got.Status, content.StatusRejected)
	}
}

func Test_contentApi_ifMatch(t *testing.T) {
	author := testutil.CreateUser(t, usrRepo, "Ina Etag", "ina.etag", "ina.etag@test.darasa", "", []string{user.RoleInstructor}, true)
	sub := testutil.CreateSubmission(t, contentRepo, author, content.TypeCourse, "Versioned", content.StatusDraft)
	tkn := getToken(t, author)
	body := marchallObj(t, content.UpdateSubmission{Title: "Versioned v2"})

	t.Run("stale precondition", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/v1/content/"+sub.ID, tkn, body)
		req.Header.Set("If-Match", "999")
		app.ServeHTTP(rec, req)
		checkCode(t, http.StatusConflict, rec)
	})

	t.Run("matching precondition", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/v1/content/"+sub.ID, tkn, body)
		req.Header.Set("If-Match", strconv.Itoa(sub.Version))
		app.ServeHTTP(rec, req)
		checkCode(t, http.StatusOK, rec)

		got := decodeSubmission(t, rec.Body.Bytes())
		if got.Version != sub.Version+1 {
			t.Errorf("version = %v; want %v", got.Version, sub.Version+1)
		}
		if etag := rec.Header().Get("ETag"); etag != strconv.Itoa(got.Version) {
			t.Errorf("ETag = %q; want %q", etag, strconv.Itoa(got.Version))
		}
	})
}

func Test_contentApi_catalogAndVisibility(t *testing.T) {
	author := testutil.CreateUser(t, usrRepo, "Ina Catalog", "ina.catalog", "ina.catalog@test.darasa", "", []string{user.RoleInstructor}, true)
	stranger := testutil.CreateUser(t, usrRepo, "Sam Catalog", "sam.catalog", "sam.catalog@test.darasa", "", []string{user.RoleStudent}, true)
	approved := testutil.CreateSubmission(t, contentRepo, author, content.TypeCourse, "Published Course", content.StatusApproved)
	draft := testutil.CreateSubmission(t, contentRepo, author, content.TypeCourse, "Secret Draft", content.StatusDraft)

	t.Run("catalog is public", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/content/catalog")
		app.ServeHTTP(rec, req)
		checkCode(t, http.StatusOK, rec)

		var subs []content.Submission
		if err := json.Unmarshal(rec.Body.Bytes(), &subs); err != nil {
			t.Fatalf("unmarshalling submissions: %v", err)
		}
		foundApproved, foundDraft := false, false
		for _, s := range subs {
			if s.ID == approved.ID {
				foundApproved = true
			}
			if s.ID == draft.ID {
				foundDraft = true
			}
		}
		if !foundApproved {
			t.Error("expected approved submission in the catalog")
		}
		if foundDraft {
			t.Error("draft must not appear in the catalog")
		}
	})

	t.Run("anyone can retrieve approved", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/content/"+approved.ID, getToken(t, stranger))
		app.ServeHTTP(rec, req)
		checkCode(t, http.StatusOK, rec)
	})

	t.Run("drafts are hidden from strangers", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/content/"+draft.ID, getToken(t, stranger))
		app.ServeHTTP(rec, req)
		checkCode(t, http.StatusNotFound, rec)
	})

	t.Run("author lists their own work", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/content/mine", getToken(t, author))
		app.ServeHTTP(rec, req)
		checkCode(t, http.StatusOK, rec)

		var subs []content.Submission
		if err := json.Unmarshal(rec.Body.Bytes(), &subs); err != nil {
			t.Fatalf("unmarshalling submissions: %v", err)
		}
		if len(subs) != 2 {
			t.Errorf("len(subs) = %v; want 2", len(subs))
		}
		for _, s := range subs {
			if s.AuthorID != author.ID {
				t.Errorf("unexpected author %v in own listing", s.AuthorID)
			}
		}
	})
}

func Test_contentApi_bulkDecide(t *testing.T) {
	author := testutil.CreateUser(t, usrRepo, "Ina Bulk", "ina.bulk", "ina.bulk@test.darasa", "", []string{user.RoleInstructor}, true)
	reviewer := testutil.CreateUser(t, usrRepo, "Ada Bulk", "ada.bulk", "ada.bulk@test.darasa", "", []string{user.RoleAdmin}, true)
	sub1 := testutil.CreateSubmission(t, contentRepo, author, content.TypeCourse, "Bulk 1", content.StatusUnderReview)
	sub2 := testutil.CreateSubmission(t, contentRepo, author, content.TypeCourse, "Bulk 2", content.StatusUnderReview)
	pending := testutil.CreateSubmission(t, contentRepo, author, content.TypeCourse, "Bulk 3", content.StatusPendingReview)

	req, rec := newAuthRequest(http.MethodPost, "/v1/content/bulk-decide", getToken(t, reviewer),
		marchallObj(t, content.BulkDecision{IDs: []string{sub1.ID, sub2.ID, pending.ID}, Action: content.ActionApprove}))
	app.ServeHTTP(rec, req)
	checkCode(t, http.StatusOK, rec)

	var results []content.DecideResult
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("unmarshalling results: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %v; want 3", len(results))
	}
	byID := make(map[string]content.DecideResult, len(results))
	for _, res := range results {
		byID[res.ID] = res
	}
	for _, id := range []string{sub1.ID, sub2.ID} {
		if res := byID[id]; res.Status != content.StatusApproved || res.Error != "" {
			t.Errorf("result for %v = %+v; want approved", id, res)
		}
	}
	if res := byID[pending.ID]; res.Error == "" {
		t.Errorf("expected an error for the unclaimed submission; got %+v", res)
	}
}

func Test_contentApi_priority(t *testing.T) {
	author := testutil.CreateUser(t, usrRepo, "Ina Prio", "ina.prio", "ina.prio@test.darasa", "", []string{user.RoleInstructor}, true)
	reviewer := testutil.CreateUser(t, usrRepo, "Ada Prio", "ada.prio", "ada.prio@test.darasa", "", []string{user.RoleAdmin}, true)
	sub := testutil.CreateSubmission(t, contentRepo, author, content.TypeCourse, "Prioritized", content.StatusPendingReview)

	tests := []httpTest{
		{
			name: "reviewer only", token: getToken(t, author),
			body:     marchallObj(t, map[string]string{"priority": "high"}),
			wantCode: http.StatusForbidden,
		},
		{
			name: "unknown priority", token: getToken(t, reviewer),
			body:     marchallObj(t, map[string]string{"priority": "yesterday"}),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "set high", token: getToken(t, reviewer),
			body:     marchallObj(t, map[string]string{"priority": "high"}),
			wantCode: http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPut, "/v1/content/"+sub.ID+"/priority", tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCode(t, tt.wantCode, rec)

			if rec.Code == http.StatusOK {
				got := decodeSubmission(t, rec.Body.Bytes())
				if got.Priority != content.PriorityHigh {
					t.Errorf("priority = %v; want %v", got.Priority, content.PriorityHigh)
				}
			}
		})
	}
}

func Test_contentApi_destroy(t *testing.T) {
	author := testutil.CreateUser(t, usrRepo, "Ina Gone", "ina.gone", "ina.gone@test.darasa", "", []string{user.RoleInstructor}, true)
	stranger := testutil.CreateUser(t, usrRepo, "Ina Other", "ina.other", "ina.other@test.darasa", "", []string{user.RoleInstructor}, true)
	admin := testutil.CreateUser(t, usrRepo, "Ada Gone", "ada.gone", "ada.gone@test.darasa", "", []string{user.RoleAdmin}, true)
	draft := testutil.CreateSubmission(t, contentRepo, author, content.TypeCourse, "Doomed Draft", content.StatusDraft)
	approved := testutil.CreateSubmission(t, contentRepo, author, content.TypeCourse, "Keeper", content.StatusApproved)

	t.Run("strangers may not delete", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/v1/content/"+draft.ID, getToken(t, stranger))
		app.ServeHTTP(rec, req)
		checkCode(t, http.StatusForbidden, rec)
	})

	t.Run("author deletes their draft", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/v1/content/"+draft.ID, getToken(t, author))
		app.ServeHTTP(rec, req)
		checkCode(t, http.StatusNoContent, rec)

		req, rec = newAuthRequest(http.MethodGet, "/v1/content/"+draft.ID, getToken(t, author))
		app.ServeHTTP(rec, req)
		checkCode(t, http.StatusNotFound, rec)
	})

	t.Run("approved content is permanent", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/v1/content/"+approved.ID, getToken(t, admin))
		app.ServeHTTP(rec, req)
		checkCode(t, http.StatusConflict, rec)
	})
}

func Test_contentApi_queueCounts(t *testing.T) {
	author := testutil.CreateUser(t, usrRepo, "Ina Count", "ina.count", "ina.count@test.darasa", "", []string{user.RoleInstructor}, true)
	admin := testutil.CreateUser(t, usrRepo, "Ada Count", "ada.count", "ada.count@test.darasa", "", []string{user.RoleAdmin}, true)
	testutil.CreateSubmission(t, contentRepo, author, content.TypeCourse, "Counted", content.StatusPendingReview)

	req, rec := newAuthRequest(http.MethodGet, "/v1/content/counts", getToken(t, admin))
	app.ServeHTTP(rec, req)
	checkCode(t, http.StatusOK, rec)

	var counts map[content.Status]int
	if err := json.Unmarshal(rec.Body.Bytes(), &counts); err != nil {
		t.Fatalf("unmarshalling counts: %v", err)
	}
	if counts[content.StatusPendingReview] < 1 {
		t.Errorf("counts[pending_review] = %v; want >= 1", counts[content.StatusPendingReview])
	}
}
