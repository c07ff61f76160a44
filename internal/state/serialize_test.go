package state

import (
	"testing"
	"time"

	"github.com/go-test/deep"

	"github.com/app-sre/external-resources-manager/internal/model"
)

func TestRoundTripFullRecord(t *testing.T) {
	key := model.ResourceKey{ProvisionProvider: "aws", ProvisionerName: "acc", Provider: "rds", Identifier: "demo"}
	conf := model.NewModuleConfiguration()
	conf.Image = "quay.io/app-sre/er-aws-rds"
	conf.Version = "0.1.0"
	conf.ReconcileDriftIntervalMinutes = 720
	conf.ReconcileTimeoutMinutes = 60

	want := model.State{
		Key:       key,
		Status:    model.StatusCreated,
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Reconciliation: model.Reconciliation{
			Key:                 key,
			Action:              model.ActionApply,
			ResourceHash:        "deadbeef",
			Input:               `{"identifier":"demo"}`,
			ModuleConfiguration: conf,
		},
		ReconciliationErrors: 2,
	}

	item, err := toItem(want)
	if err != nil {
		t.Fatal(err)
	}
	got, err := fromItem(item, false)
	if err != nil {
		t.Fatal(err)
	}

	if diff := deep.Equal(want, got); diff != nil {
		t.Errorf("round trip mismatch: %v", diff)
	}
}

func TestLegacyHashKeyStable(t *testing.T) {
	key := model.ResourceKey{ProvisionProvider: "aws", ProvisionerName: "acc", Provider: "rds", Identifier: "demo"}
	h1 := legacyHashKey(key)
	h2 := legacyHashKey(key)
	if h1 != h2 {
		t.Fatal("legacyHashKey must be deterministic")
	}
	if len(h1) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(h1))
	}
}

func TestFromItemPartialToleratesMissingFields(t *testing.T) {
	key := model.ResourceKey{ProvisionProvider: "aws", ProvisionerName: "acc", Provider: "rds", Identifier: "demo"}
	rec := model.State{Key: key, Status: model.StatusCreated, Timestamp: time.Now().UTC()}
	item, err := toItem(rec)
	if err != nil {
		t.Fatal(err)
	}
	delete(item, attrErrors)

	got, err := fromItem(item, true)
	if err != nil {
		t.Fatalf("partial deserialize should tolerate missing projected-out fields: %v", err)
	}
	if got.Key != key {
		t.Errorf("key mismatch: %v", got.Key)
	}
}
