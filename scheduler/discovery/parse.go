package discovery

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/inference-scheduler/scheduler"
)

const numColumns = 8

// ParseCSV converts `nvidia-smi --format=csv,noheader,nounits` output into
// accelerators. Malformed rows are logged and skipped. Fields reported as
// "[N/A]" or "[Not Supported]" read as zero.
func ParseCSV(data []byte) []scheduler.Accelerator {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	accelerators := []scheduler.Accelerator{}
	for line := 1; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			logrus.Warnf("accelerator discovery: skipping line %d: %v", line, err)
			continue
		}
		acc, err := parseRecord(record)
		if err != nil {
			logrus.Warnf("accelerator discovery: skipping line %d: %v", line, err)
			continue
		}
		accelerators = append(accelerators, acc)
	}
	return accelerators
}

func parseRecord(record []string) (scheduler.Accelerator, error) {
	if len(record) != numColumns {
		return scheduler.Accelerator{}, fmt.Errorf("expected %d fields, got %d", numColumns, len(record))
	}
	id, err := strconv.Atoi(strings.TrimSpace(record[0]))
	if err != nil {
		return scheduler.Accelerator{}, fmt.Errorf("index: %w", err)
	}

	var acc scheduler.Accelerator
	acc.ID = id
	acc.Name = strings.TrimSpace(record[1])

	ints := []*int{&acc.MemoryTotalMB, &acc.MemoryFreeMB, &acc.MemoryUsedMB}
	for i, dst := range ints {
		v, err := parseNumber(record[2+i])
		if err != nil {
			return scheduler.Accelerator{}, fmt.Errorf("field %d: %w", 2+i, err)
		}
		*dst = int(v)
	}
	floats := []*float64{&acc.UtilizationPct, &acc.TemperatureC, &acc.PowerW}
	for i, dst := range floats {
		v, err := parseNumber(record[5+i])
		if err != nil {
			return scheduler.Accelerator{}, fmt.Errorf("field %d: %w", 5+i, err)
		}
		*dst = v
	}

	acc.Status = scheduler.StatusAvailable
	if acc.UtilizationPct > 0 || acc.MemoryUsedMB > 0 {
		acc.Status = scheduler.StatusInUse
	}
	return acc, nil
}

func parseNumber(field string) (float64, error) {
	field = strings.TrimSpace(field)
	if strings.HasPrefix(field, "[") {
		return 0, nil
	}
	return strconv.ParseFloat(field, 64)
}
