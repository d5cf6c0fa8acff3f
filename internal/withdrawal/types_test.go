package withdrawal

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestFilterValues(t *testing.T) {
	require.Equal(t, "0", StatusPending.FilterValue())
	require.Equal(t, "4", StatusReserved.FilterValue())
	require.Equal(t, "3", StatusProcessing.FilterValue())
	require.False(t, Status("approved").Valid())
	require.Equal(t, []Status{StatusPending, StatusReserved, StatusProcessing}, Statuses)
}

func TestNewBucket(t *testing.T) {
	records := []Record{
		{ID: "1", AmountText: "100"},
		{ID: "2", AmountText: "250,50 TRY"},
	}

	b := NewBucket(StatusPending, records, 12)
	require.Equal(t, 12, b.DeclaredCount)
	require.False(t, b.CountMismatch)
	require.True(t, decimal.RequireFromString("350.5").Equal(b.SumAmount))

	b = NewBucket(StatusReserved, records, 1)
	require.True(t, b.CountMismatch)

	b = NewBucket(StatusProcessing, nil, 0)
	require.NotNil(t, b.Records)
	require.Len(t, b.Records, 0)
}

func TestScanResult(t *testing.T) {
	result := ScanResult{
		Buckets: []Bucket{
			NewBucket(StatusPending, []Record{{ID: "7"}}, 3),
			FailedBucket(StatusReserved, errors.New("boom")),
			NewBucket(StatusProcessing, nil, 0),
		},
	}

	b, ok := result.Bucket(StatusReserved)
	require.True(t, ok)
	require.True(t, b.Failed)
	require.Equal(t, "boom", b.Error)

	require.False(t, result.AllFailed())
	require.Equal(t, 1, result.TotalRecords())
	require.Equal(t, 3, result.TotalDeclared())

	rec, ok := result.FindRecord("7")
	require.True(t, ok)
	require.Equal(t, "7", rec.ID)
	_, ok = result.FindRecord("8")
	require.False(t, ok)

	allFailed := ScanResult{Buckets: []Bucket{
		FailedBucket(StatusPending, nil),
		FailedBucket(StatusReserved, nil),
		FailedBucket(StatusProcessing, nil),
	}}
	require.True(t, allFailed.AllFailed())
}
