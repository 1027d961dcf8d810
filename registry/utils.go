package registry

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	protoparser "github.com/yoheimuta/go-protoparser/v4"
	protoparserparser "github.com/yoheimuta/go-protoparser/v4/parser"
)

// wellKnownPrefix marks imports served by the built-in definitions.
const wellKnownPrefix = "google/protobuf/"

// entityKind tells a resolved type name apart as message or enum.
type entityKind int

const (
	entityMessage entityKind = iota + 1
	entityEnum
)

// getAllProtoInfo uses DFS to fetch protoFile and everything it imports, parsing each file once.
// Files loaded by an earlier call are not parsed again. The caller holds r.mu.
func (r *Registry) getAllProtoInfo(protoFile string, roots []string) ([]string, error) {
	visited := make(map[string]struct{}) // to make sure we don't end up in a loop
	result := make([]string, 0)

	var dfs func(protoFile string) error
	dfs = func(protoFile string) error {
		if _, ok := visited[protoFile]; ok {
			return nil
		}
		visited[protoFile] = struct{}{}
		if _, loaded := r.repo.ProtoFiles[protoFile]; loaded {
			return nil
		}
		if _, parsed := r.parsedProtoBody[protoFile]; parsed {
			return nil
		}

		protoBytes, err := os.ReadFile(protoFile)
		if err != nil {
			return errors.Wrap(err, "failed to read file")
		}
		parsedBody, err := protoparser.Parse(bytes.NewReader(protoBytes), protoparser.WithFilename(protoFile))
		if err != nil {
			return errors.Wrapf(err, "failed to parse %s", protoFile)
		}
		r.parsedProtoBody[protoFile] = parsedBody
		entity := &protoFileEntity{imports: make([]string, 0)}
		r.protoEntities[protoFile] = entity

		for _, body := range parsedBody.ProtoBody {
			imp, ok := body.(*protoparserparser.Import)
			if !ok {
				continue
			}
			importPath := strings.Trim(imp.Location, `"'`)
			if strings.HasPrefix(importPath, wellKnownPrefix) {
				continue
			}
			fullImportPath, err := r.findIfProtoExists(importPath, roots)
			if err != nil {
				return errors.Wrapf(err, "import %q in %s", importPath, protoFile)
			}
			entity.imports = append(entity.imports, fullImportPath)
			if err = dfs(fullImportPath); err != nil {
				return err
			}
		}
		// dependencies first, so a file's imports are converted before it
		result = append(result, protoFile)
		return nil
	}

	protoPath, err := r.findIfProtoExists(protoFile, roots)
	if err != nil {
		return nil, err
	}
	if err := dfs(protoPath); err != nil {
		return nil, err
	}
	return result, nil
}

// findIfProtoExists resolves protoPath against ProtoDirectories, then the
// extra roots, then as given.
func (r *Registry) findIfProtoExists(protoPath string, roots []string) (string, error) {
	protoPath = strings.Trim(protoPath, `"`)
	if !strings.HasSuffix(protoPath, ".proto") {
		return "", errors.Errorf("%s is not a .proto file", protoPath)
	}
	candidates := make([]string, 0, len(r.ProtoDirectories)+len(roots)+1)
	for _, dir := range r.ProtoDirectories {
		candidates = append(candidates, filepath.Join(dir, protoPath))
	}
	for _, dir := range roots {
		candidates = append(candidates, filepath.Join(dir, protoPath))
	}
	candidates = append(candidates, protoPath)

	var lastErr error
	for _, fullPath := range candidates {
		info, err := os.Stat(fullPath)
		if err != nil {
			lastErr = err
			continue
		}
		if info.IsDir() {
			continue
		}
		return filepath.Clean(fullPath), nil
	}
	return "", errors.Wrapf(lastErr, "path does not exist: %s", protoPath)
}

/*
getReferencedType returns the fully qualified name of a type referenced from
scope, the fully qualified name of the message the reference appears in.
Relative names are searched from the innermost scope outwards, then as given.
Ref - https://github.com/protocolbuffers/protobuf/blob/b7a5772caf08d62a20fd1bca258f501fa4db022c/src/google/protobuf/descriptor.proto#L186-L191
*/
func getReferencedType(typeName, scope string, entities map[string]entityKind) (string, entityKind, error) {
	if strings.HasPrefix(typeName, ".") {
		return getFullyQualifiedType(typeName, entities)
	}
	if result, ok := splitNameAndCheck(typeName, scope, entities); ok {
		return result, entities[result], nil
	}
	if kind, ok := entities[typeName]; ok {
		return typeName, kind, nil
	}
	return "", 0, errors.Errorf("unable to resolve type name: %s", typeName)
}

// splitNameAndCheck appends typeName to each enclosing scope, innermost first.
func splitNameAndCheck(typeName, scope string, entities map[string]entityKind) (string, bool) {
	if scope == "" {
		return "", false
	}
	prefixSplit := strings.Split(scope, ".")
	for len(prefixSplit) > 0 {
		entityName := strings.Join(prefixSplit, ".") + "." + typeName
		if _, ok := entities[entityName]; ok {
			return entityName, true
		}
		// go one level up to the enclosing entity
		prefixSplit = prefixSplit[:len(prefixSplit)-1]
	}
	return "", false
}

func getFullyQualifiedType(typeName string, entities map[string]entityKind) (string, entityKind, error) {
	typeName = strings.TrimPrefix(typeName, ".")
	if kind, ok := entities[typeName]; ok {
		return typeName, kind, nil
	}
	return "", 0, errors.Errorf("unable to resolve fully qualified type name: .%s", typeName)
}
