package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/obsrvr-event-warehouse/internal/source"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/tables"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/transform"
)

func strPtr(s string) *string { return &s }

func sampleResult(t *testing.T) *transform.Result {
	t.Helper()
	raws := []source.RawEvent{
		{PageURL: "https://puffy.com/?utm_source=google", Timestamp: "2025-02-22T10:00:00.000Z", EventName: "page_viewed", ClientID: strPtr("c1")},
		{PageURL: "https://puffy.com/thanks", Timestamp: "2025-02-22T10:05:00.000Z", EventName: "checkout_completed", ClientID: strPtr("c1"), EventData: strPtr(`{"transaction_id":"T1","revenue":10}`)},
		{PageURL: "https://puffy.com/", Timestamp: "2025-02-22T10:06:00.000Z", EventName: "page_viewed"},
		{PageURL: "https://puffy.com/thanks", Timestamp: "2025-02-22T11:00:00.000Z", EventName: "purchase", ClientID: strPtr("c2"), EventData: strPtr(`{"transaction_id":"T2"}`)},
	}
	res, err := transform.Run(context.Background(), raws, transform.DefaultOptions())
	require.NoError(t, err)
	return res
}

func TestValidateResultPasses(t *testing.T) {
	v := ValidateResult(sampleResult(t))
	assert.True(t, v.Passed, v.Errors)
	assert.NoError(t, v.Err())
	assert.Equal(t, []string{"1 events without client id"}, v.Warnings)
}

func TestValidateResultCatchesCorruption(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(*transform.Result)
		want    string
	}{
		{
			name:    "gap in event ids",
			corrupt: func(r *transform.Result) { r.Events[1].EventID = 7 },
			want:    "position 1 has id 7",
		},
		{
			name:    "client-less event with session",
			corrupt: func(r *transform.Result) { r.Events[2].SessionID = strPtr("c1-1") },
			want:    "has no client",
		},
		{
			name:    "dangling session reference",
			corrupt: func(r *transform.Result) { r.Events[3].SessionID = strPtr("c9-1") },
			want:    "unknown session c9-1",
		},
		{
			name:    "duplicate transaction",
			corrupt: func(r *transform.Result) { r.Orders[1].TransactionID = r.Orders[0].TransactionID },
			want:    "not unique and sorted",
		},
		{
			name:    "missing attribution row",
			corrupt: func(r *transform.Result) { r.Attribution = r.Attribution[:3] },
			want:    "attribution has 3 rows for 2 orders",
		},
		{
			name: "swapped attribution models",
			corrupt: func(r *transform.Result) {
				r.Attribution[0].Model, r.Attribution[1].Model = r.Attribution[1].Model, r.Attribution[0].Model
			},
			want: "missing first_click record for T1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := sampleResult(t)
			tt.corrupt(res)

			v := ValidateResult(res)
			require.False(t, v.Passed)
			assert.True(t, errors.Is(v.Err(), ErrValidationFailed))
			assert.Contains(t, strings.Join(v.Errors, "; "), tt.want)
		})
	}
}

func TestValidateResultCapsErrors(t *testing.T) {
	res := sampleResult(t)
	for i := 0; i < 2*maxErrors; i++ {
		res.Orders = append(res.Orders, res.Orders[0])
	}

	v := ValidateResult(res)
	assert.False(t, v.Passed)
	assert.Len(t, v.Errors, maxErrors)
}

func TestValidateOutput(t *testing.T) {
	out, err := tables.Encode(sampleResult(t), tables.DefaultParquetConfig())
	require.NoError(t, err)

	v := ValidateOutput(out)
	assert.True(t, v.Passed, v.Errors)

	out.Checksums[transform.TableOrders] = "sha256:00"
	delete(out.Parquets, transform.TableSessions)

	v = ValidateOutput(out)
	assert.False(t, v.Passed)
	assert.Contains(t, v.Errors, "checksum mismatch for table fct_orders")
	assert.Contains(t, v.Errors, "table fct_sessions not encoded")

	assert.False(t, ValidateOutput(nil).Passed)
}
