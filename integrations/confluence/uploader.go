package confluence

import (
	"context"
	"fmt"
	"time"

	"github.com/emptyset-io/cloudsweep/telemetry"
)

// DefaultParentPage is the page reports are filed under when no parent is
// configured.
const DefaultParentPage = "Cost Reports"

// attachmentsMacro renders the page's attachments inline so the uploaded
// report is reachable from the page body.
const attachmentsMacro = `<ac:macro ac:name="attachments" ac:schema-version="1"></ac:macro>`

// Uploader files HTML reports under a parent page in a Confluence space.
type Uploader struct {
	client      *Client
	spaceKey    string
	parentTitle string
	logger      *telemetry.Logger

	now func() time.Time
}

// NewUploader builds an uploader for one space. An empty parentTitle falls
// back to DefaultParentPage.
func NewUploader(client *Client, spaceKey, parentTitle string) *Uploader {
	if parentTitle == "" {
		parentTitle = DefaultParentPage
	}
	return &Uploader{
		client:      client,
		spaceKey:    spaceKey,
		parentTitle: parentTitle,
		logger:      telemetry.NewLogger("confluence.uploader"),
		now:         time.Now,
	}
}

// UploadReport attaches the report file to a per-title page under the
// configured parent, creating the page on first upload. The parent page must
// already exist; reports never create top-level structure.
func (u *Uploader) UploadReport(ctx context.Context, pageTitle, reportPath, accountID string) error {
	parent, err := u.client.FindPage(ctx, u.spaceKey, u.parentTitle)
	if err != nil {
		return err
	}
	if parent == nil {
		return fmt.Errorf("parent page %q not found in space %s", u.parentTitle, u.spaceKey)
	}

	page, err := u.client.FindPage(ctx, u.spaceKey, pageTitle)
	if err != nil {
		return err
	}
	if page == nil {
		body := fmt.Sprintf("Report for account %s on %s<br/><br/>%s",
			accountID, u.now().Format("01/02/2006"), attachmentsMacro)
		page, err = u.client.CreatePage(ctx, u.spaceKey, pageTitle, body, parent.ID)
		if err != nil {
			return err
		}
	}

	if err := u.client.AttachFile(ctx, page.ID, reportPath, "cloudsweep scan report"); err != nil {
		return err
	}

	u.logger.WithContext(ctx).Info().
		Str("space", u.spaceKey).
		Str("page", pageTitle).
		Msg("report uploaded")
	return nil
}
