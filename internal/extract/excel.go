package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractExcel renders each sheet under a "# <sheet>" heading with tab-separated rows,
// so the chunker keeps sheets apart. Blank rows and trailing empty cells are dropped.
func extractExcel(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	var buf strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		var lines []string
		for _, row := range rows {
			if line := rowText(row); line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) == 0 {
			continue
		}
		buf.WriteString("# " + sheet + "\n")
		buf.WriteString(strings.Join(lines, "\n"))
		buf.WriteString("\n\n")
	}
	return strings.TrimSpace(buf.String()), nil
}

func rowText(row []string) string {
	end := len(row)
	for end > 0 && strings.TrimSpace(row[end-1]) == "" {
		end--
	}
	return strings.Join(row[:end], "\t")
}
