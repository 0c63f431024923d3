package plugin

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"strings"
)

// forbiddenImports may never be imported by sandboxed plugin source.
// Trusted plugins are warned about them instead of blocked, since a
// trusted plugin is compiled into the host and already has the run of
// the process.
var forbiddenImports = map[string]bool{
	"os/exec": true,
	"net":     true,
	"plugin":  true,
	"unsafe":  true,
	"syscall": true,
}

var dangerousCallPrefixes = []string{
	"exec.Command",
	"unsafe.Pointer",
	"syscall.",
}

// ScanResult is the outcome of statically analyzing a plugin's source
// tree for disallowed imports and call patterns.
type ScanResult struct {
	Passed   bool
	Errors   []string
	Warnings []string
}

// Scan walks every *.go file under dir and records forbidden imports and
// dangerous call patterns. whitelist, when non-empty, causes any import
// not in it to be recorded as a warning in addition to any forbidden-set
// hit. blocking controls whether Errors entries make Passed false
// (sandboxed mode) or are folded into Warnings instead (trusted mode).
func Scan(dir string, whitelist []string, blocking bool) (*ScanResult, error) {
	allow := make(map[string]bool, len(whitelist))
	for _, w := range whitelist {
		allow[w] = true
	}

	result := &ScanResult{Passed: true}
	fset := token.NewFileSet()

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") {
			return nil
		}
		file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly|parser.ParseComments)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		scanImports(path, file, allow, result)

		full, err := parser.ParseFile(fset, path, nil, 0)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		scanCalls(path, full, result)
		return nil
	})
	if err != nil {
		return nil, newError(ErrScanner, "", "scanning plugin source", err)
	}

	if !blocking {
		result.Warnings = append(result.Warnings, result.Errors...)
		result.Errors = nil
	}
	result.Passed = len(result.Errors) == 0
	return result, nil
}

func scanImports(path string, file *ast.File, allow map[string]bool, result *ScanResult) {
	for _, imp := range file.Imports {
		name := strings.Trim(imp.Path.Value, `"`)
		if forbiddenImports[name] {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: forbidden import %q", path, name))
			continue
		}
		if len(allow) > 0 && !allow[name] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: import %q not in whitelist", path, name))
		}
	}
}

func scanCalls(path string, file *ast.File, result *ScanResult) {
	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		ident, ok := sel.X.(*ast.Ident)
		if !ok {
			return true
		}
		qualified := ident.Name + "." + sel.Sel.Name
		for _, prefix := range dangerousCallPrefixes {
			if strings.HasPrefix(qualified, prefix) {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: dangerous call %s", path, qualified))
			}
		}
		return true
	})
}
