package inventory

import (
	"context"
	"fmt"

	"github.com/stocktake/stocktake/internal/model"
)

// CreateReport builds the immutable snapshot of a session's counts.
//
// Item names are copied into the rows at report time, so renaming or
// deleting an item later never rewrites history. An item that is already
// gone is reported under its id.
func (s *Service) CreateReport(ctx context.Context, sessionID string) (*model.Report, error) {
	sess, err := s.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	entries, err := s.st.Entries().GetBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	report := model.Report{
		SessionID: sessionID,
		Date:      sess.Date,
		Rows:      make([]model.ReportRow, 0, len(entries)),
	}

	for _, e := range entries {
		name := e.ItemID
		item, err := s.st.Items().Get(ctx, e.ItemID)
		if err != nil {
			return nil, err
		}
		if item != nil {
			name = item.Name
		}

		report.Rows = append(report.Rows, model.ReportRow{
			ItemID:           e.ItemID,
			ItemName:         name,
			Quantity:         e.Quantity,
			PreviousQuantity: e.PreviousQuantity,
			Difference:       e.Difference,
			Comment:          e.Comment,
		})

		report.TotalItems++
		if e.Difference == nil || *e.Difference == 0 {
			continue
		}
		report.ItemsWithDifference++
		if *e.Difference > 0 {
			report.PositiveDifferenceCount++
		} else {
			report.NegativeDifferenceCount++
		}
	}

	if err := s.st.Reports().Add(ctx, &report); err != nil {
		return nil, err
	}
	s.notifyChanged(collectionReports, report.ID)
	return &report, nil
}

// GetAllReports returns every local report.
func (s *Service) GetAllReports(ctx context.Context) ([]model.Report, error) {
	return s.st.Reports().GetAll(ctx)
}

// GetReportByID returns one report, or ErrNotFound.
func (s *Service) GetReportByID(ctx context.Context, id string) (*model.Report, error) {
	report, err := s.st.Reports().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	return report, nil
}

// GetReportsBySession returns the reports snapshotted from one session.
func (s *Service) GetReportsBySession(ctx context.Context, sessionID string) ([]model.Report, error) {
	return s.st.Reports().GetBySession(ctx, sessionID)
}
