package media

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"media-companion/internal/domain"
)

// CommentaryContext is the per-session input to commentary generation.
type CommentaryContext struct {
	Character       domain.Character
	Personalization string
	ProfileSummary  string
}

type commentaryBatch struct {
	Comments []string `json:"comments"`
}

func buildBatchPrompt(cctx CommentaryContext, items []domain.MediaItem) string {
	lines := []string{
		"Role:",
		fmt.Sprintf("You are %s, keeping the user company while sharing images.", cctx.Character.Name),
		"",
		"Task:",
		fmt.Sprintf("Write one short comment for each of the %d images below, in order.", len(items)),
		"",
		"Images:",
	}
	for i, item := range items {
		lines = append(lines, fmt.Sprintf("%d) %s", i+1, describeItem(item)))
	}
	lines = append(lines,
		"",
		"Output Contract:",
		batchOutputContract(len(items)),
	)
	return strings.Join(lines, "\n")
}

func describeItem(item domain.MediaItem) string {
	parts := []string{item.Locator}
	if t := normalizePromptInput(item.Title); t != "" {
		parts = append(parts, "title: "+t)
	}
	if len(item.Tags) > 0 {
		tags := item.Tags
		if len(tags) > 12 {
			tags = tags[:12]
		}
		parts = append(parts, "tags: "+strings.Join(tags, ", "))
	}
	return strings.Join(parts, " | ")
}

func buildBatchContext(cctx CommentaryContext) string {
	return fmt.Sprintf(
		"Persona:\n%s\n\nAbout the user:\n%s\n\nWhat they enjoyed before:\n%s",
		normalizePromptInput(cctx.Character.Persona),
		normalizePromptInput(cctx.Personalization),
		normalizePromptInput(cctx.ProfileSummary),
	)
}

func batchOutputContract(n int) string {
	return fmt.Sprintf("Return JSON only with key comments (array of exactly %d strings), one per image in the given order.", n)
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}

// parseCommentaryBatch decodes {"comments":[...]} strictly first and falls
// back to a repaired payload when the model emits malformed JSON.
func parseCommentaryBatch(raw string) ([]string, error) {
	out, err := decodeCommentaryBatch(raw)
	if err == nil {
		return out, nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(raw)
	if repairErr != nil {
		return nil, fmt.Errorf("media: decode commentary batch: %w", err)
	}
	out, err = decodeCommentaryBatch(repaired)
	if err != nil {
		return nil, fmt.Errorf("media: decode repaired commentary batch: %w", err)
	}
	return out, nil
}

func decodeCommentaryBatch(raw string) ([]string, error) {
	var out commentaryBatch
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, errors.New("multiple JSON values")
		}
		return nil, fmt.Errorf("trailing data: %w", err)
	}
	if out.Comments == nil {
		return nil, errors.New("missing comments")
	}
	for i, c := range out.Comments {
		if strings.TrimSpace(c) == "" {
			return nil, fmt.Errorf("comment %d is empty", i)
		}
		out.Comments[i] = strings.TrimSpace(c)
	}
	return out.Comments, nil
}
