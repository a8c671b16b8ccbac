package facility

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"

	"ipms-mediator/internal/app/contracts"
	"ipms-mediator/internal/pkg/dto/workflow"
	"ipms-mediator/internal/pkg/exceptions"
)

// Table maps an ordering facility to the facility that receives its orders
// in the remote system. It is read once at startup and never mutated, so
// lookups need no locking.
type Table struct {
	byCode map[string]workflow.FacilityMapping
	byName map[string]workflow.FacilityMapping
}

var _ contracts.FacilityDirectory = (*Table)(nil)

func LoadFile(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, exceptions.ErrFacilityMappingLoad(err, path)
	}
	defer file.Close()

	table, err := Load(file)
	if err != nil {
		return nil, exceptions.ErrFacilityMappingLoad(err, path)
	}
	return table, nil
}

// Load reads rows of orderingFacilityCode, orderingFacilityName,
// receivingFacilityCode, receivingFacilityName. A header row is skipped.
func Load(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 4
	reader.TrimLeadingSpace = true

	table := &Table{
		byCode: make(map[string]workflow.FacilityMapping),
		byName: make(map[string]workflow.FacilityMapping),
	}
	for line := 0; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if line == 0 && strings.EqualFold(strings.TrimSpace(row[0]), "orderingFacilityCode") {
			continue
		}
		table.Add(workflow.FacilityMapping{
			OrderingCode:  strings.TrimSpace(row[0]),
			OrderingName:  strings.TrimSpace(row[1]),
			ReceivingCode: strings.TrimSpace(row[2]),
			ReceivingName: strings.TrimSpace(row[3]),
		})
	}
	return table, nil
}

func NewTable(rows ...workflow.FacilityMapping) *Table {
	table := &Table{
		byCode: make(map[string]workflow.FacilityMapping),
		byName: make(map[string]workflow.FacilityMapping),
	}
	for _, row := range rows {
		table.Add(row)
	}
	return table
}

// Add registers row. The first row seen for a code or name wins.
func (t *Table) Add(row workflow.FacilityMapping) {
	if key := normalize(row.OrderingCode); key != "" {
		if _, exists := t.byCode[key]; !exists {
			t.byCode[key] = row
		}
	}
	if key := normalize(row.OrderingName); key != "" {
		if _, exists := t.byName[key]; !exists {
			t.byName[key] = row
		}
	}
}

// Lookup matches on facility code first and falls back to the name.
func (t *Table) Lookup(code, name string) (workflow.FacilityMapping, bool) {
	if row, ok := t.byCode[normalize(code)]; ok && code != "" {
		return row, true
	}
	if row, ok := t.byName[normalize(name)]; ok && name != "" {
		return row, true
	}
	return workflow.FacilityMapping{}, false
}

func (t *Table) Len() int {
	return len(t.byCode)
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
