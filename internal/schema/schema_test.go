package schema

import (
	"testing"

	"google.golang.org/protobuf/types/known/apipb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestImport_ResolvesWellKnownType(t *testing.T) {
	r := New(nil)

	resolved, err := r.Import(nil, "", "google.protobuf.StringValue")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if resolved.TypeName != (&wrapperspb.StringValue{}).ProtoReflect().Descriptor().FullName() {
		t.Errorf("TypeName = %v, want google.protobuf.StringValue", resolved.TypeName)
	}
	if len(resolved.DescriptorSetBytes) == 0 {
		t.Errorf("expected non-empty descriptor set bytes")
	}
}

func TestImport_UnknownTypeFails(t *testing.T) {
	r := New(nil)
	if _, err := r.Import(nil, "", "does.not.Exist"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestImport_CachesDescriptorSet(t *testing.T) {
	r := New(nil)

	first, err := r.Import(nil, "", "google.protobuf.Timestamp")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	second, err := r.Import(nil, "", "google.protobuf.Timestamp")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	if &first.DescriptorSetBytes[0] != &second.DescriptorSetBytes[0] {
		t.Errorf("expected cached byte slice to be reused across calls")
	}
}

func TestBuildFileDescriptorSet_IncludesDependencies(t *testing.T) {
	// api.proto imports source_context.proto and type.proto; type.proto in
	// turn imports any.proto and source_context.proto again.
	desc := (&apipb.Api{}).ProtoReflect().Descriptor()
	fdset := BuildFileDescriptorSet(desc.ParentFile())

	if len(fdset.File) == 0 {
		t.Fatalf("expected at least one file in descriptor set")
	}

	seen := make(map[string]bool)
	for _, f := range fdset.File {
		if seen[f.GetName()] {
			t.Errorf("duplicate file %q in descriptor set", f.GetName())
		}
		seen[f.GetName()] = true
	}
	for _, dep := range []string{
		"google/protobuf/api.proto",
		"google/protobuf/source_context.proto",
		"google/protobuf/type.proto",
		"google/protobuf/any.proto",
	} {
		if !seen[dep] {
			t.Errorf("descriptor set is missing %q", dep)
		}
	}
}
