package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/withObsrvr/obsrvr-event-warehouse/internal/tables"
	"github.com/withObsrvr/obsrvr-event-warehouse/internal/transform"
)

// ErrValidationFailed is returned when derived tables break a consistency
// rule. Nothing is published.
var ErrValidationFailed = errors.New("output validation failed")

// maxErrors caps the messages kept; one systematic fault can hit every row.
const maxErrors = 50

// ValidationResult contains the outcome of output validation.
type ValidationResult struct {
	Passed   bool
	Errors   []string
	Warnings []string
}

func (v *ValidationResult) fail(format string, args ...any) {
	v.Passed = false
	if len(v.Errors) < maxErrors {
		v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
	}
}

// Err returns nil when validation passed.
func (v ValidationResult) Err() error {
	if v.Passed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(v.Errors, "; "))
}

// ValidateResult checks the cross-table consistency of a transform result:
//   - event ids are dense and in position order
//   - events without a client carry no session
//   - every session reference resolves and session event counts match
//   - transaction ids are unique and sorted
//   - every order has exactly one first-click and one last-click record
//   - fallback records are direct
func ValidateResult(res *transform.Result) ValidationResult {
	v := ValidationResult{Passed: true}

	sessions := make(map[string]*transform.Session, len(res.Sessions))
	for i := range res.Sessions {
		s := &res.Sessions[i]
		if _, dup := sessions[s.SessionID]; dup {
			v.fail("duplicate session id %s", s.SessionID)
			continue
		}
		sessions[s.SessionID] = s
		if s.Start.Compare(s.End) > 0 {
			v.fail("session %s starts after it ends", s.SessionID)
		}
	}

	perSession := make(map[string]int, len(res.Sessions))
	missingClient := 0
	for i := range res.Events {
		e := &res.Events[i]
		if e.EventID != int64(i) {
			v.fail("event at position %d has id %d", i, e.EventID)
			break
		}
		if e.ClientID == nil {
			missingClient++
			if e.SessionID != nil {
				v.fail("event %d has no client but session %s", e.EventID, *e.SessionID)
			}
			continue
		}
		if e.SessionID == nil {
			v.fail("event %d has a client but no session", e.EventID)
			continue
		}
		perSession[*e.SessionID]++
	}
	for id, n := range perSession {
		s, ok := sessions[id]
		if !ok {
			v.fail("events reference unknown session %s", id)
			continue
		}
		if s.Events != n {
			v.fail("session %s counts %d events, %d reference it", id, s.Events, n)
		}
	}
	if len(perSession) != len(sessions) {
		v.fail("%d sessions have no events", len(sessions)-len(perSession))
	}
	if missingClient > 0 {
		v.Warnings = append(v.Warnings, fmt.Sprintf("%d events without client id", missingClient))
	}

	for i := range res.Orders {
		o := &res.Orders[i]
		if i > 0 && res.Orders[i-1].TransactionID >= o.TransactionID {
			v.fail("orders not unique and sorted at transaction %s", o.TransactionID)
		}
		if o.SessionID != nil {
			if _, ok := sessions[*o.SessionID]; !ok {
				v.fail("order %s references unknown session %s", o.TransactionID, *o.SessionID)
			}
		}
	}

	if len(res.Attribution) != 2*len(res.Orders) {
		v.fail("attribution has %d rows for %d orders", len(res.Attribution), len(res.Orders))
		return v
	}
	for i := range res.Orders {
		tx := res.Orders[i].TransactionID
		first, last := &res.Attribution[2*i], &res.Attribution[2*i+1]
		if first.TransactionID != tx || first.Model != transform.FirstClick {
			v.fail("missing first_click record for %s", tx)
		}
		if last.TransactionID != tx || last.Model != transform.LastClick {
			v.fail("missing last_click record for %s", tx)
		}
		for _, a := range []*transform.AttributionRecord{first, last} {
			if a.IsFallback() {
				if a.Source != transform.SourceDirect {
					v.fail("fallback record for %s has source %s", tx, a.Source)
				}
				continue
			}
			if _, ok := sessions[*a.SessionID]; !ok {
				v.fail("attribution for %s references unknown session %s", tx, *a.SessionID)
			}
		}
	}

	return v
}

// ValidateOutput checks the encoded tables before they are written.
func ValidateOutput(out *tables.ParquetOutput) ValidationResult {
	v := ValidationResult{Passed: true}
	if out == nil {
		v.fail("no parquet output provided")
		return v
	}

	for _, table := range transform.Tables {
		data, ok := out.Parquets[table]
		if !ok {
			v.fail("table %s not encoded", table)
			continue
		}
		if len(data) == 0 {
			v.fail("empty parquet data for table %s", table)
		}
		checksum, ok := out.Checksums[table]
		if !ok {
			v.fail("missing checksum for table %s", table)
		} else if !tables.VerifyChecksum(data, checksum) {
			v.fail("checksum mismatch for table %s", table)
		}
		if _, ok := out.RowCounts[table]; !ok {
			v.Warnings = append(v.Warnings, fmt.Sprintf("missing row count for table %s", table))
		}
	}
	return v
}
