package reports

import (
	"fmt"
)

// NewReportGenerator creates a report generator based on the report type.
func NewReportGenerator(reportType ReportType, s ReportStore) (Generator, error) {
	switch reportType {
	case ReportTypeSpendLog:
		return NewSpendLogReport(s), nil
	case ReportTypeRegen:
		return NewRegenReport(s), nil
	case ReportTypeEvents:
		return NewEventReport(s), nil
	default:
		return nil, fmt.Errorf("unknown report type: %s", reportType)
	}
}
