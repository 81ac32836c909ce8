package session

import (
	"context"
	"fmt"
	"strings"
)

// regenerateProfile rewrites a premium user's profile summary from the old
// summary, their notes and what they reacted to this session.
func (s *Session) regenerateProfile(ctx context.Context, oldSummary string, triggers []string) {
	if s.deps.Generator == nil {
		return
	}
	premium, err := s.deps.Quota.GetPremiumFlag(ctx, s.userID)
	if err != nil {
		s.logger.Warn("premium flag unavailable, skipping profile summary", "err", err)
		return
	}
	if !premium {
		return
	}
	if !s.useProfileSummary {
		if oldSummary, err = s.deps.Quota.GetProfileSummary(ctx, s.userID); err != nil {
			s.logger.Warn("profile summary unavailable", "err", err)
			oldSummary = ""
		}
	}
	text, err := s.deps.Generator.Generate(ctx, buildProfilePrompt(), buildProfileContext(oldSummary, s.personalization, triggers), nil)
	if err != nil {
		s.logger.Warn("profile summary generation failed", "err", err)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if err := s.deps.Quota.SetProfileSummary(ctx, s.userID, text); err != nil {
		s.logger.Warn("profile summary not saved", "err", err)
	}
}

func buildProfilePrompt() string {
	return strings.Join([]string{
		"Task:",
		"Update the short profile of what this user enjoys.",
		"Keep it under 80 words and in plain prose.",
		"Merge the previous profile with the new reactions; drop nothing that is still true.",
	}, "\n")
}

func buildProfileContext(oldSummary, personalization string, triggers []string) string {
	liked := "none"
	if len(triggers) > 0 {
		liked = strings.Join(triggers, ", ")
	}
	return fmt.Sprintf(
		"Previous profile:\n%s\n\nUser notes:\n%s\n\nTags they reacted to this session:\n%s",
		orNone(oldSummary), orNone(personalization), liked,
	)
}

func orNone(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "none"
	}
	return s
}
