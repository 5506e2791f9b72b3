// Package extraction runs the consensus pipeline: fan out a document to
// multiple extractors, reconcile their field sets, verify the result against
// the page layout, and persist the run for audit.
package extraction

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
)

// DocumentSource resolves a content reference to document text.
type DocumentSource interface {
	Fetch(ctx context.Context, contentRef string) (string, error)
}

// FileSource reads documents from the local filesystem; content references
// are file paths.
type FileSource struct{}

// Fetch reads the file at contentRef.
func (FileSource) Fetch(_ context.Context, contentRef string) (string, error) {
	data, err := os.ReadFile(contentRef)
	if err != nil {
		return "", eris.Wrapf(err, "extraction: read document %s", contentRef)
	}
	return string(data), nil
}
