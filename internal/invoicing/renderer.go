package invoicing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopflow/shopflow/saga"
)

// Renderer produces the invoice artifact and returns its URL. Rendering the
// same request twice must be safe; the handler can run again on redelivery.
type Renderer interface {
	Render(ctx context.Context, req saga.Request, items []saga.Item, user saga.User) (string, error)
}

// FileRenderer writes invoice documents to a local directory. It stands in
// for a real PDF pipeline; the saga only cares about the resulting URL.
type FileRenderer struct {
	dir     string
	baseURL string
}

var _ Renderer = (*FileRenderer)(nil)

// NewFileRenderer creates the artifact directory if needed.
func NewFileRenderer(dir, baseURL string) (*FileRenderer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("invoicing: create artifact dir failed: %w", err)
	}

	return &FileRenderer{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Render writes the invoice document, overwriting any previous copy.
func (r *FileRenderer) Render(_ context.Context, req saga.Request, items []saga.Item, user saga.User) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "INVOICE\n\nRequest: %d\nBilled to: %s\n\n", req.ID, user.Email)
	for _, item := range items {
		fmt.Fprintf(&b, "product %d\tx%d\t%s\n", item.ProductID, item.Quantity, item.Price.StringFixed(2))
	}
	fmt.Fprintf(&b, "\nTOTAL\t%s\n", req.TotalPrice.StringFixed(2))

	name := fmt.Sprintf("invoice-%d.pdf", req.ID)
	if err := os.WriteFile(filepath.Join(r.dir, name), []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("invoicing: write artifact failed: %w", err)
	}

	return r.baseURL + "/" + name, nil
}
