package secrets

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeSecretsFile(t *testing.T, payload string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
	return path
}

func TestLoadMissingFileGivesEmptyStore(t *testing.T) {
	store, err := Load(filepath.Join(t.TempDir(), DefaultFileName))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if names := store.Names(); len(names) != 0 {
		t.Fatalf("expected no secrets, got %v", names)
	}
}

func TestLoadReadsFileValues(t *testing.T) {
	path := writeSecretsFile(t, "AWS_ACCESS_ID: AKIA123\nAWS_SECRET_KEY: shhh\nAWS_REGION: eu-west-1\n")
	store, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	value, ok := store.Lookup("AWS_REGION")
	if !ok || value != "eu-west-1" {
		t.Fatalf("Lookup(AWS_REGION) = %q, %v", value, ok)
	}
	want := []string{"AWS_ACCESS_ID", "AWS_REGION", "AWS_SECRET_KEY"}
	if got := store.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
}

func TestLoadRejectsInvalidName(t *testing.T) {
	path := writeSecretsFile(t, "\"bad name\": value\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected invalid secret names to be rejected")
	}
}

func TestEnvOverrideWins(t *testing.T) {
	store := FromMap(map[string]string{"AWS_REGION": "eu-west-1"})
	t.Setenv(EnvPrefix+"AWS_REGION", "us-east-2")

	value, ok := store.Lookup("AWS_REGION")
	if !ok || value != "us-east-2" {
		t.Fatalf("Lookup(AWS_REGION) = %q, %v; want the env override", value, ok)
	}
}

func TestEnvProvidesMissingSecret(t *testing.T) {
	store := FromMap(nil)
	t.Setenv(EnvPrefix+"CI_TOKEN", "tok")

	value, ok := store.Lookup("CI_TOKEN")
	if !ok || value != "tok" {
		t.Fatalf("Lookup(CI_TOKEN) = %q, %v", value, ok)
	}
}

func TestResolveSkipsUnboundNames(t *testing.T) {
	store := FromMap(map[string]string{"AWS_ACCESS_ID": "AKIA123"})

	resolved := store.Resolve([]string{"AWS_ACCESS_ID", "AWS_SECRET_KEY"})
	if len(resolved) != 1 {
		t.Fatalf("resolved = %v, want only the bound name", resolved)
	}
	if resolved["AWS_ACCESS_ID"] != "AKIA123" {
		t.Fatalf("AWS_ACCESS_ID = %q", resolved["AWS_ACCESS_ID"])
	}
	if _, present := resolved["AWS_SECRET_KEY"]; present {
		t.Fatal("unbound secret must be absent from the result, not empty")
	}
}
