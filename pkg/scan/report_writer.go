package scan

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/modelguard/modelguard/internal/data/model"
)

// WriteFindingsToCSV writes a scan's findings as CSV rows.
func WriteFindingsToCSV(w io.Writer, scan *model.Scan, includeHeader bool) error {
	csvWriter := csv.NewWriter(w)

	if includeHeader {
		err := csvWriter.Write([]string{
			"ScanID",
			"Scanner",
			"Severity",
			"Category",
			"Title",
			"Message",
			"Location",
			"Remediation",
		})
		if err != nil {
			return fmt.Errorf("error writing csv header: %w", err)
		}
	}

	for _, finding := range scan.Findings {
		err := csvWriter.Write([]string{
			scan.ID,
			finding.Scanner,
			string(finding.Severity),
			finding.Category,
			finding.Title,
			finding.Message,
			finding.Location,
			finding.Remediation,
		})
		if err != nil {
			return fmt.Errorf("error writing csv record: %w", err)
		}
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("error flushing csv: %w", err)
	}
	return nil
}

// WriteScanToJSON writes the scan with its findings as indented JSON.
func WriteScanToJSON(w io.Writer, scan *model.Scan) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(scan); err != nil {
		return fmt.Errorf("error writing json: %w", err)
	}
	return nil
}

// WriteScanSummary writes a one-scan-per-line listing for the CLI.
func WriteScanSummary(w io.Writer, scans []model.Scan) error {
	for _, scan := range scans {
		_, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\tpassed=%s\tfindings=%d\n",
			scan.ID, scan.Kind, scan.Status, scan.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			strconv.FormatBool(scan.Passed), scan.Counts.Total())
		if err != nil {
			return fmt.Errorf("error writing summary: %w", err)
		}
	}
	return nil
}
