package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordSync(t *testing.T) {
	before := testutil.ToFloat64(SyncRuns.WithLabelValues("succeeded"))

	RecordSync("succeeded", 0.25)

	assert.Equal(t, before+1, testutil.ToFloat64(SyncRuns.WithLabelValues("succeeded")))
}

func TestRecordDelegateCall(t *testing.T) {
	okBefore := testutil.ToFloat64(DelegateCalls.WithLabelValues("forms", "success"))
	failBefore := testutil.ToFloat64(DelegateCalls.WithLabelValues("forms", "failure"))

	RecordDelegateCall("forms", nil)
	RecordDelegateCall("forms", errors.New("boom"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(DelegateCalls.WithLabelValues("forms", "success")))
	assert.Equal(t, failBefore+1, testutil.ToFloat64(DelegateCalls.WithLabelValues("forms", "failure")))
}
