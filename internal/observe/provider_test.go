package observe

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

func resourceValue(t *testing.T, set attribute.Set, key attribute.Key) string {
	t.Helper()
	v, ok := set.Value(key)
	if !ok {
		t.Fatalf("resource is missing %q", key)
	}
	return v.AsString()
}

func TestNewResource_RelayAttributes(t *testing.T) {
	res, err := newResource(ProviderConfig{
		ServiceName:    "voicerelay",
		ServiceVersion: "1.2.3",
		UpstreamModel:  "gpt-4o-realtime-preview",
	})
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}

	set := attribute.NewSet(res.Attributes()...)
	if got := resourceValue(t, set, semconv.ServiceNameKey); got != "voicerelay" {
		t.Errorf("service name = %q", got)
	}
	if got := resourceValue(t, set, semconv.ServiceVersionKey); got != "1.2.3" {
		t.Errorf("service version = %q", got)
	}
	if got := resourceValue(t, set, "voicerelay.upstream.model"); got != "gpt-4o-realtime-preview" {
		t.Errorf("upstream model = %q", got)
	}
}

func TestNewResource_OmitsEmptyModel(t *testing.T) {
	res, err := newResource(ProviderConfig{ServiceName: "voicerelay"})
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	set := attribute.NewSet(res.Attributes()...)
	if _, ok := set.Value("voicerelay.upstream.model"); ok {
		t.Error("model attribute present despite empty config")
	}
}
