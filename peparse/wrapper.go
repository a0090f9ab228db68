package peparse

import (
	"petriage/common"
	"petriage/source"
)

// Analysis is a parsed file together with what is known about it as a
// file on disk.
type Analysis struct {
	Name   string            `json:"name"`
	Hashes common.FileHashes `json:"hashes"`
	File   *File             `json:"pe"`
	Panels []Panel           `json:"panels,omitempty"`
}

// Analyze parses src and hashes its content. The error is the one
// returned by Parse; the Analysis is always usable.
func Analyze(name string, src source.ByteSource) (*Analysis, error) {
	f, parseErr := Parse(src)
	a := &Analysis{Name: name, File: f, Panels: f.Panels()}
	hashes, err := common.HashReader(source.NewReader(src))
	if err != nil {
		return a, err
	}
	a.Hashes = hashes
	return a, parseErr
}

// AnalyzeFile maps the file at filePath and analyzes it. The mapping is
// released before returning; nothing in the result refers to it.
func AnalyzeFile(filePath string) (*Analysis, error) {
	src, err := source.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer func(src *source.Mapped) {
		_ = src.Close()
	}(src)

	return Analyze(filePath, src)
}
