package model

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/sabhiram/go-gitignore"
)

var DefaultUploadInclude = []string{"*.pdf", "*.txt"}
var DefaultUploadExclude = []string{".*"}

// Filter decides which uploaded file names are accepted, using gitignore style patterns.
// Matching is case-insensitive.
type Filter struct {
	Include []string `json:"include"`
	Exclude []string `json:"exclude"`

	once       sync.Once
	incMatcher *ignore.GitIgnore
	excMatcher *ignore.GitIgnore
}

func NewUploadFilter(include []string, exclude []string) *Filter {
	if len(include) == 0 {
		include = DefaultUploadInclude
	}
	if exclude == nil {
		exclude = DefaultUploadExclude
	}
	return &Filter{Include: include, Exclude: exclude}
}

func (flt *Filter) compile() {
	flt.once.Do(func() {
		if incMatcher, err := ignore.CompileIgnoreLines(lowerAll(flt.Include)...); err == nil {
			flt.incMatcher = incMatcher
		}
		if excMatcher, err := ignore.CompileIgnoreLines(lowerAll(flt.Exclude)...); err == nil {
			flt.excMatcher = excMatcher
		}
	})
}

// ValidPath reports whether a file may enter the pipeline. Excluded names are always rejected;
// when include patterns exist the name must match one of them.
func (flt *Filter) ValidPath(pathToTest string) bool {
	flt.compile()

	pathToTest = strings.ToLower(filepath.ToSlash(pathToTest))
	if filepath.Ext(pathToTest) == "" {
		return false
	}

	if len(flt.Exclude) > 0 && flt.excMatcher != nil && flt.excMatcher.MatchesPath(pathToTest) {
		return false
	}

	if len(flt.Include) == 0 || flt.incMatcher == nil {
		return true
	}
	return flt.incMatcher.MatchesPath(pathToTest)
}

func lowerAll(patterns []string) []string {
	lowered := make([]string, 0, len(patterns))
	for _, p := range patterns {
		lowered = append(lowered, strings.ToLower(p))
	}
	return lowered
}
