package eventrelay

import (
	"context"
	"errors"
	"testing"
)

type invoiceIssued struct {
	Number string `json:"number"`
}

func TestLoggerExports(t *testing.T) {
	logger := NewEntryServiceLogger(&stubEntry{})
	logger.Info("boot", LogFields{"component": "test"})
	NopLogger().Error("ignored", errors.New("boom"), nil)
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	if _, err := Marshal(payload); err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	if _, err := MarshalIndent(payload, "", "  "); err != nil {
		t.Fatalf("marshal indent alias failed: %v", err)
	}
	if err := Unmarshal([]byte(`{"hello":"world"}`), &payload); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}
}

func TestMetadataExport(t *testing.T) {
	md := NewMetadata("key", "value")
	if md["key"] != "value" {
		t.Fatalf("expected metadata to contain key, got %#v", md)
	}
}

func TestNewServiceRequiresConfig(t *testing.T) {
	if _, err := NewService(nil, NopLogger(), context.Background(), ServiceDependencies{}); !errors.Is(err, ErrConfigRequired) {
		t.Fatalf("expected config required error, got %v", err)
	}
}

func TestRelayThroughRootAPI(t *testing.T) {
	types := NewTypeRegistry()
	if err := RegisterType[invoiceIssued](types, "billing.invoice_issued"); err != nil {
		t.Fatalf("register type: %v", err)
	}
	repo := NewMemoryRepository()
	svc, err := NewService(&Config{QueueBackend: "memory", QueueCapacity: 8}, NopLogger(), context.Background(), ServiceDependencies{
		Types:      types,
		Repository: repo,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := RelayTo[invoiceIssued](svc); err != nil {
		t.Fatalf("relay: %v", err)
	}

	ctx := context.Background()
	for _, n := range []string{"INV-1", "INV-2"} {
		if err := Publish(ctx, svc.Hub(), invoiceIssued{Number: n}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if depth := svc.Queue().Stats().Depth; depth != 2 {
		t.Fatalf("expected depth 2, got %d", depth)
	}
	if err := svc.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	records := repo.Records()
	if len(records) != 2 {
		t.Fatalf("expected 2 forwarded records, got %d", len(records))
	}
	if records[0].TypeName != "billing.invoice_issued" {
		t.Fatalf("unexpected type name %q", records[0].TypeName)
	}
}

type stubEntry struct {
	fields LogFields
	err    error
}

func (s *stubEntry) Error(args ...any) {}
func (s *stubEntry) Info(args ...any)  {}
func (s *stubEntry) Debug(args ...any) {}
func (s *stubEntry) Trace(args ...any) {}

func (s *stubEntry) WithError(err error) *stubEntry {
	clone := *s
	clone.err = err
	return &clone
}

func (s *stubEntry) WithField(key string, value any) *stubEntry {
	clone := *s
	if clone.fields == nil {
		clone.fields = make(LogFields)
	}
	clone.fields[key] = value
	return &clone
}
