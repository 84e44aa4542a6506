// Package models defines the contact entity and the consolidated identity
// view. A consolidated identity ("identity group") is one primary contact plus
// every secondary whose LinkedID points at it; the primary is always the
// earliest-created member of the group.
package models

import (
	"sort"
	"time"
)

// LinkPrecedence marks a contact as the canonical head of its identity group
// or as an alias merged into one.
type LinkPrecedence string

const (
	PrecedencePrimary   LinkPrecedence = "primary"
	PrecedenceSecondary LinkPrecedence = "secondary"
)

// Contact is the only persisted entity. Optional fields are pointers; absence
// means the value was never observed for this record. A primary contact has
// LinkedID == nil; a secondary's LinkedID points directly at its group's
// primary (link depth is exactly one, secondaries never chain).
type Contact struct {
	ID             int64
	Email          *string
	PhoneNumber    *string
	LinkedID       *int64
	LinkPrecedence LinkPrecedence
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

// IsPrimary reports whether the contact heads its identity group.
func (c *Contact) IsPrimary() bool {
	return c.LinkPrecedence == PrecedencePrimary
}

// RootID returns the id of the contact's identity root: itself when primary,
// its link target when secondary.
func (c *Contact) RootID() int64 {
	if c.LinkedID != nil {
		return *c.LinkedID
	}
	return c.ID
}

// EmailValue returns the email or "" when absent.
func (c *Contact) EmailValue() string {
	if c.Email == nil {
		return ""
	}
	return *c.Email
}

// PhoneValue returns the phone number or "" when absent.
func (c *Contact) PhoneValue() string {
	if c.PhoneNumber == nil {
		return ""
	}
	return *c.PhoneNumber
}

// SortByCreation orders contacts by CreatedAt ascending, breaking timestamp
// ties by ascending id. Every ordering decision in the engine (surviving
// primary selection, view ordering) goes through this one comparator so the
// tie-break stays deterministic.
func SortByCreation(contacts []*Contact) {
	sort.SliceStable(contacts, func(i, j int) bool {
		if contacts[i].CreatedAt.Equal(contacts[j].CreatedAt) {
			return contacts[i].ID < contacts[j].ID
		}
		return contacts[i].CreatedAt.Before(contacts[j].CreatedAt)
	})
}

// Submission is a normalized identify request: trimmed, lowercased email and
// digits-only phone, with empty strings already mapped to nil at the HTTP
// boundary. At least one field is present by the time it reaches the service.
type Submission struct {
	Email       *string
	PhoneNumber *string
}

// Empty reports whether the submission carries neither field.
func (s Submission) Empty() bool {
	return s.Email == nil && s.PhoneNumber == nil
}

// EmailValue returns the submitted email or "" when absent.
func (s Submission) EmailValue() string {
	if s.Email == nil {
		return ""
	}
	return *s.Email
}

// PhoneValue returns the submitted phone or "" when absent.
func (s Submission) PhoneValue() string {
	if s.PhoneNumber == nil {
		return ""
	}
	return *s.PhoneNumber
}

// ConsolidatedContact is the externally visible summary of an identity group.
// Emails and PhoneNumbers list the primary's value first, then each distinct
// secondary value in order of first appearance.
type ConsolidatedContact struct {
	PrimaryContactID    int64    `json:"primaryContactId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}
