package model

import "testing"

func TestResourceKeyStatePath(t *testing.T) {
	k := ResourceKey{ProvisionProvider: "aws", ProvisionerName: "acc", Provider: "rds", Identifier: "demo"}
	want := "aws/acc/rds/demo"
	if got := k.StatePath(); got != want {
		t.Errorf("StatePath() = %q, want %q", got, want)
	}
	if k.String() != want {
		t.Errorf("String() = %q, want %q", k.String(), want)
	}
}

func TestOutputPrefixNormalizesUnderscores(t *testing.T) {
	k := ResourceKey{Identifier: "demo", Provider: "worker_script"}
	want := "demo-worker-script"
	if got := k.OutputPrefix(); got != want {
		t.Errorf("OutputPrefix() = %q, want %q", got, want)
	}
}
