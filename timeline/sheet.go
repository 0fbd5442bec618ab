package timeline

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"
)

const columnCount = 4

// SheetClient drives the timeline tab of one spreadsheet through the Google
// Sheets API. The first worksheet tab is selected at construction time.
type SheetClient struct {
	service  *sheets.Service
	sheetKey string
	sheetID  int64
	tabTitle string
}

// NewSheetClient authenticates with the service-account credentials file and
// resolves the first worksheet tab. Any failure along the chain (auth,
// metadata fetch, missing tab) is returned so the caller can abort startup.
func NewSheetClient(ctx context.Context, credentialsPath, sheetKey string) (*SheetClient, error) {
	service, err := sheets.NewService(ctx,
		option.WithCredentialsFile(credentialsPath),
		option.WithScopes(sheets.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("timeline: authentication failed: %w", err)
	}
	meta, err := service.Spreadsheets.Get(sheetKey).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("timeline: cannot fetch spreadsheet %q: %w", sheetKey, err)
	}
	if len(meta.Sheets) == 0 || meta.Sheets[0].Properties == nil {
		return nil, fmt.Errorf("timeline: spreadsheet %q has no worksheet tabs", sheetKey)
	}
	props := meta.Sheets[0].Properties
	return &SheetClient{
		service:  service,
		sheetKey: sheetKey,
		sheetID:  props.SheetId,
		tabTitle: props.Title,
	}, nil
}

// Push replaces the sheet contents with the given rows: clear, resize to the
// fixed four-column layout, write the header, then bulk-append the rows. The
// first failing stage aborts the rest.
func (c *SheetClient) Push(ctx context.Context, rows []Row) error {
	if _, err := c.service.Spreadsheets.Values.Clear(c.sheetKey, c.tabTitle,
		&sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("timeline: clear failed: %w", err)
	}

	resize := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId: c.sheetID,
					GridProperties: &sheets.GridProperties{
						ColumnCount: columnCount,
					},
				},
				Fields: "gridProperties.columnCount",
			},
		}},
	}
	if _, err := c.service.Spreadsheets.BatchUpdate(c.sheetKey, resize).Context(ctx).Do(); err != nil {
		return fmt.Errorf("timeline: resize failed: %w", err)
	}

	header := &sheets.ValueRange{
		Values: [][]interface{}{{Header[0], Header[1], Header[2], Header[3]}},
	}
	if _, err := c.service.Spreadsheets.Values.Update(c.sheetKey, c.tabTitle+"!A1:D1", header).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("timeline: header write failed: %w", err)
	}

	if len(rows) == 0 {
		return nil
	}
	values := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		values = append(values, []interface{}{row.RowLabel, row.BarLabel, row.Start, row.End})
	}
	if _, err := c.service.Spreadsheets.Values.Append(c.sheetKey, c.tabTitle+"!A2", &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do(); err != nil {
		return fmt.Errorf("timeline: row insert failed: %w", err)
	}
	return nil
}
