package state

import "testing"

func TestPartialProjectionSelectsDocumentedFields(t *testing.T) {
	want := "external_resource_key, time_stamp, resource_status, reconciliation.resource_hash"
	if partialProjection != want {
		t.Errorf("partialProjection = %q, want %q", partialProjection, want)
	}
}
