package capability

import (
	"context"
	"fmt"
	"strings"

	drive "google.golang.org/api/drive/v3"
)

const fileSearchLimit = 10

// DriveClient executes file storage actions against the Google Drive API.
type DriveClient struct {
	svc    *drive.Service
	userID string
	memory SemanticIndex
}

func (c *DriveClient) Capability() Capability { return Storage }

func (c *DriveClient) Execute(ctx context.Context, inv Invocation) (string, error) {
	if actionHas(inv.Action, "share") {
		return c.share(ctx, inv)
	}
	return c.search(ctx, inv)
}

func (c *DriveClient) search(ctx context.Context, inv Invocation) (string, error) {
	query := stringParam(inv.Params, "query", "file_name", "name")
	if query == "" {
		query = inv.Query
	}

	files, err := c.findFiles(ctx, query, fileSearchLimit)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "no files matched the search", nil
	}

	var summaries []string
	for _, f := range files {
		summary := fmt.Sprintf("%q (%s, modified %s)", f.Name, f.MimeType, f.ModifiedTime)
		summaries = append(summaries, summary)
		c.memory.Index(ctx, c.userID, "file", f.Id, summary)
	}
	return fmt.Sprintf("found %d files: %s", len(summaries), strings.Join(summaries, "; ")), nil
}

func (c *DriveClient) share(ctx context.Context, inv Invocation) (string, error) {
	email := stringParam(inv.Params, "email", "with", "recipient_email", "to")
	if email == "" {
		return "", fmt.Errorf("no email address was provided to share with")
	}

	fileID := stringParam(inv.Params, "file_id", "id")
	fileName := stringParam(inv.Params, "file_name", "name")
	if fileID == "" {
		if fileName == "" {
			return "", fmt.Errorf("no file was named to share")
		}
		files, err := c.findFiles(ctx, fileName, 1)
		if err != nil {
			return "", err
		}
		if len(files) == 0 {
			return "", fmt.Errorf("no file named %q was found", fileName)
		}
		fileID = files[0].Id
		fileName = files[0].Name
	}

	perm := &drive.Permission{
		Type:         "user",
		Role:         "reader",
		EmailAddress: email,
	}
	if _, err := c.svc.Permissions.Create(fileID, perm).Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("failed to share file: %w", err)
	}
	if fileName == "" {
		fileName = fileID
	}
	return fmt.Sprintf("shared %q with %s as reader", fileName, email), nil
}

func (c *DriveClient) findFiles(ctx context.Context, query string, limit int64) ([]*drive.File, error) {
	q := fmt.Sprintf("name contains '%s' or fullText contains '%s'", escapeQuery(query), escapeQuery(query))
	resp, err := c.svc.Files.List().
		Q(q).
		PageSize(limit).
		Fields("files(id, name, mimeType, webViewLink, modifiedTime)").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to search files: %w", err)
	}
	return resp.Files, nil
}

func escapeQuery(q string) string {
	return strings.ReplaceAll(q, "'", `\'`)
}
