package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latetrack/late-ledger/internal/application/command"
)

func TestReadBulkRecords(t *testing.T) {
	in := "roll_no,date\n22B81A0501, 2026-10-01\n22B81A0502,2026-10-02\n"

	records, err := readBulkRecords(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []command.BulkRecord{
		{RollNo: "22B81A0501", Date: "2026-10-01"},
		{RollNo: "22B81A0502", Date: "2026-10-02"},
	}, records)
}

func TestReadBulkRecords_Errors(t *testing.T) {
	_, err := readBulkRecords(strings.NewReader("roll_no,date\n"))
	assert.Error(t, err)

	_, err = readBulkRecords(strings.NewReader("22B81A0501\n"))
	assert.Error(t, err)
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"2026-10-01", "2026-10-02"}, splitCSV(" 2026-10-01, ,2026-10-02 "))
	assert.Empty(t, splitCSV(""))
}
