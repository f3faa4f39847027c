package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/trezcool/darasa/core/content"
	"github.com/trezcool/darasa/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	usr.SetActive(isActive)
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateSubmission(
	t *testing.T,
	repo content.Repository,
	author user.User,
	contentType, title string,
	status content.Status,
	submittedAt ...time.Time,
) content.Submission {
	t.Helper()
	now := time.Now().UTC()
	sub := content.Submission{
		ContentType: contentType,
		Title:       title,
		AuthorID:    author.ID,
		AuthorRole:  content.AuthorRoleFor(author, contentType),
		Priority:    content.PriorityMedium,
		Status:      status,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if status != content.StatusDraft {
		sub.SubmittedAt = now
		if len(submittedAt) > 0 {
			sub.SubmittedAt = submittedAt[0].UTC()
		}
	}
	sub, err := repo.CreateSubmission(context.Background(), sub)
	if err != nil {
		t.Fatalf("CreateSubmission() failed: %v", err)
	}
	return sub
}
