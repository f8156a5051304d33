package graph

import (
	"path/filepath"
	"strings"
)

// Classify decides which item type a tagging target is. An existing
// filesystem entry is a Path; otherwise a string starting with "http" or
// "www" is an Http. Anything else fails with ErrClassification.
func (s *Store) Classify(target string) (VertexType, error) {
	typ, err := s.classify(target)
	if err != nil {
		err.Op = "Classify"
		return AnyType, err
	}
	return typ, nil
}

// classify returns an Op-less error so the calling operation can claim it.
func (s *Store) classify(target string) (VertexType, *Error) {
	if target != "" {
		if _, err := s.opts.Stat(target); err == nil {
			return Path, nil
		}
	}
	if strings.HasPrefix(target, "http") || strings.HasPrefix(target, "www") {
		return Http, nil
	}
	return AnyType, &Error{Kind: ErrClassification, Value: target}
}

// canonicalPath returns the absolute, symlink-free form of a Path target,
// so one file maps to one vertex however its path is spelled. When the
// target cannot be resolved on disk the cleaned absolute path is used.
func canonicalPath(target string) string {
	abs, err := filepath.Abs(target)
	if err != nil {
		return filepath.Clean(target)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// itemValue is the stored property value of a classified target.
func itemValue(typ VertexType, target string) string {
	if typ == Path {
		return canonicalPath(target)
	}
	return target
}
