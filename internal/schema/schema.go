// Package schema resolves topic schema types to Protobuf descriptors and
// materializes the transitive descriptor-set blob that gets embedded in a
// log file so readers can reconstruct types without the original source
// tree.
//
// Compiling ".proto" source into descriptors is an out-of-scope external
// collaborator (a SchemaImporter); this package consumes already-registered
// descriptors from the Protobuf global registry instead of parsing files
// itself.
package schema

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"

	openbagerrors "github.com/openbag/openbag/internal/errors"
)

// Resolved is the outcome of importing a topic's schema: the descriptor
// itself plus the serialized transitive FileDescriptorSet to embed.
type Resolved struct {
	TypeName           protoreflect.FullName
	Descriptor         protoreflect.MessageDescriptor
	DescriptorSetBytes []byte
}

// Importer resolves a fully-qualified message type name to its descriptor.
// The default Importer resolves against the Protobuf global registry;
// applications with their own descriptor sources (e.g. a real
// SchemaImporter that compiled ".proto" files at startup) can supply their
// own.
type Importer interface {
	Resolve(typeName string) (protoreflect.MessageDescriptor, error)
}

// GlobalImporter resolves type names against the process's Protobuf global
// registry — the set of types that self-register via generated ".pb.go"
// init() functions. searchPaths/sourceFile are accepted for contract
// parity with the out-of-scope SchemaImporter but are not consulted.
type GlobalImporter struct{}

// Resolve implements Importer.
func (GlobalImporter) Resolve(typeName string) (protoreflect.MessageDescriptor, error) {
	mt, err := protoregistry.GlobalTypes.FindMessageByName(protoreflect.FullName(typeName))
	if err != nil {
		return nil, fmt.Errorf("%w: type %q not found in registry: %v", openbagerrors.ErrSchema, typeName, err)
	}
	return mt.Descriptor(), nil
}

// Registry imports topic schemas and caches their descriptor-set blobs, so
// repeated imports of one type return the same bytes without rebuilding the
// dependency closure. Import still asks the Importer to resolve the type on
// every call. Log rotation does not go through the Registry: the Writer
// replays the schema records it already holds.
type Registry struct {
	importer Importer

	mu    sync.Mutex
	cache map[protoreflect.FullName][]byte
}

// New creates a Registry using the given Importer. A nil importer defaults
// to GlobalImporter.
func New(importer Importer) *Registry {
	if importer == nil {
		importer = GlobalImporter{}
	}
	return &Registry{
		importer: importer,
		cache:    make(map[protoreflect.FullName][]byte),
	}
}

// Import resolves typeName to a descriptor and returns its cached (or
// freshly built) transitive descriptor-set blob. searchPaths and
// sourceFile are accepted for parity with the spec's TopicInfo but are
// only meaningful to a real SchemaImporter; the default GlobalImporter
// ignores them.
func (r *Registry) Import(searchPaths []string, sourceFile, typeName string) (*Resolved, error) {
	desc, err := r.importer.Resolve(typeName)
	if err != nil {
		return nil, err
	}

	fqname := desc.FullName()

	r.mu.Lock()
	defer r.mu.Unlock()

	blob, ok := r.cache[fqname]
	if !ok {
		fdset := BuildFileDescriptorSet(desc.ParentFile())
		blob, err = proto.Marshal(fdset)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal descriptor set for %q: %v", openbagerrors.ErrSchema, fqname, err)
		}
		r.cache[fqname] = blob
	}

	return &Resolved{
		TypeName:           fqname,
		Descriptor:         desc,
		DescriptorSetBytes: blob,
	}, nil
}

// InvalidateCache drops every cached descriptor-set blob, forcing the next
// Import for each type to rebuild it. Nothing in this module calls it;
// descriptors don't change mid-process.
func (r *Registry) InvalidateCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[protoreflect.FullName][]byte)
}

// BuildFileDescriptorSet performs a breadth-first walk over root's
// dependency graph, deduplicating by file path (names are the stable
// identity in the descriptor system, not file contents), and copies each
// file's wire-form descriptor proto into the result. This is the Go
// counterpart of the BFS closure algorithm used to make a log
// self-describing.
func BuildFileDescriptorSet(root protoreflect.FileDescriptor) *descriptorpb.FileDescriptorSet {
	fdset := &descriptorpb.FileDescriptorSet{}
	seen := make(map[string]bool)
	pending := []protoreflect.FileDescriptor{root}

	for len(pending) > 0 {
		f := pending[0]
		pending = pending[1:]

		if seen[f.Path()] {
			continue
		}
		seen[f.Path()] = true
		fdset.File = append(fdset.File, protodesc.ToFileDescriptorProto(f))

		imports := f.Imports()
		for i := 0; i < imports.Len(); i++ {
			dep := imports.Get(i).FileDescriptor
			if dep != nil && !seen[dep.Path()] {
				pending = append(pending, dep)
			}
		}
	}

	return fdset
}
