package walker

import (
	"path/filepath"

	ignore "github.com/sabhiram/go-gitignore"
)

// ignoreLayer holds the .gitignore rules of one directory. Parsers are
// immutable and shared between walk workers.
type ignoreLayer struct {
	dir    string
	parser *ignore.GitIgnore
}

// loadIgnoreLayer compiles dir/.gitignore. A missing or unreadable file
// yields a layer with a nil parser.
func loadIgnoreLayer(dir string) ignoreLayer {
	parser, err := ignore.CompileIgnoreFile(joinPath(dir, ".gitignore"))
	if err != nil {
		return ignoreLayer{dir: dir}
	}
	return ignoreLayer{dir: dir, parser: parser}
}

// childLayers returns the layers for a subdirectory: the parent's plus
// the subdirectory's own. Nil parents (ignore rules off) stay nil.
func childLayers(parent []ignoreLayer, dir string) []ignoreLayer {
	if parent == nil {
		return nil
	}
	layers := make([]ignoreLayer, len(parent)+1)
	copy(layers, parent)
	layers[len(parent)] = loadIgnoreLayer(dir)
	return layers
}

// isIgnoredByLayers checks fullPath against every layer, each relative to
// its own directory.
func isIgnoredByLayers(layers []ignoreLayer, fullPath string, isDir bool) bool {
	for _, layer := range layers {
		if layer.parser == nil {
			continue
		}
		rel, err := filepath.Rel(layer.dir, fullPath)
		if err != nil {
			continue
		}
		if isDir {
			rel += "/"
		}
		if layer.parser.MatchesPath(rel) {
			return true
		}
	}
	return false
}
