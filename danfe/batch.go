package danfe

import (
	"context"
	"fmt"
	"strings"
)

// MaxBatchFiles caps one conversion call.
const MaxBatchFiles = 50

var ErrBatchTooLarge = fmt.Errorf("batch exceeds the maximum of %d files", MaxBatchFiles)

// BatchItem is one input document of a conversion batch.
type BatchItem struct {
	Name string
	Xml  string
}

// BatchResult carries the per-item outcome. A failed item has Err set and
// nil Pdf; it never aborts the rest of the batch.
type BatchResult struct {
	Name string
	Pdf  []byte
	Err  error
}

// BatchOutcome aggregates a finished batch.
type BatchOutcome struct {
	Results   []BatchResult
	Succeeded int
	Failed    int
}

// Errors lists every per-item failure as "name: reason".
func (o *BatchOutcome) Errors() []string {
	var out []string
	for _, r := range o.Results {
		if r.Err != nil {
			out = append(out, r.Name+": "+r.Err.Error())
		}
	}
	return out
}

// ContainsNFeRoot checks for the minimal shape of an NF-e document before
// spending a renderer call on it.
func ContainsNFeRoot(xmlContent string) bool {
	return strings.Contains(xmlContent, "<infNFe") || strings.Contains(xmlContent, "<NFe")
}

// ConvertFunc renders one XML. Injected so batch semantics are testable
// without the external service.
type ConvertFunc func(ctx context.Context, xmlContent string) ([]byte, error)

// ProcessBatch converts every item independently. Validation failures and
// renderer failures are recorded per item; processing is strictly
// sequential so the renderer never sees a burst.
func ProcessBatch(ctx context.Context, items []BatchItem, convert ConvertFunc) (*BatchOutcome, error) {
	if len(items) > MaxBatchFiles {
		return nil, ErrBatchTooLarge
	}

	outcome := &BatchOutcome{Results: make([]BatchResult, 0, len(items))}
	for _, item := range items {
		result := BatchResult{Name: item.Name}

		if strings.TrimSpace(item.Xml) == "" {
			result.Err = ErrEmptyXml
		} else if !ContainsNFeRoot(item.Xml) {
			result.Err = fmt.Errorf("no NF-e root element found")
		} else {
			result.Pdf, result.Err = convert(ctx, item.Xml)
		}

		if result.Err != nil {
			outcome.Failed++
		} else {
			outcome.Succeeded++
		}
		outcome.Results = append(outcome.Results, result)
	}
	return outcome, nil
}
