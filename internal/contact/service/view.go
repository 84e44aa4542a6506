package service

import (
	"coalesce/internal/contact/models"
	pkgerrors "coalesce/pkg/domain-errors"
	platformstrings "coalesce/pkg/platform/strings"
)

// viewOfGroup builds the consolidated view for a fetched member set, locating
// the primary inside it.
func viewOfGroup(members []*models.Contact) (*models.ConsolidatedContact, error) {
	primaries := primariesOf(members)
	if len(primaries) != 1 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "identity group must have exactly one primary")
	}
	return buildView(primaries[0], members)
}

// buildView assembles the canonical consolidated view: the primary's email
// and phone lead their lists, followed by each distinct secondary value in
// order of first appearance (creation order, ties by id). The same stored
// state always yields byte-identical output.
func buildView(primary *models.Contact, members []*models.Contact) (*models.ConsolidatedContact, error) {
	sorted := make([]*models.Contact, len(members))
	copy(sorted, members)
	models.SortByCreation(sorted)

	emails := make([]string, 0, len(sorted))
	phones := make([]string, 0, len(sorted))
	seenEmails := make(map[string]struct{}, len(sorted))
	seenPhones := make(map[string]struct{}, len(sorted))

	emails = platformstrings.AppendUnique(emails, seenEmails, primary.EmailValue())
	phones = platformstrings.AppendUnique(phones, seenPhones, primary.PhoneValue())

	secondaryIDs := make([]int64, 0, len(sorted))
	for _, m := range sorted {
		emails = platformstrings.AppendUnique(emails, seenEmails, m.EmailValue())
		phones = platformstrings.AppendUnique(phones, seenPhones, m.PhoneValue())
		if m.ID != primary.ID {
			secondaryIDs = append(secondaryIDs, m.ID)
		}
	}

	return &models.ConsolidatedContact{
		PrimaryContactID:    primary.ID,
		Emails:              emails,
		PhoneNumbers:        phones,
		SecondaryContactIDs: secondaryIDs,
	}, nil
}
