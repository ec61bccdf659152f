// Package nih provides the research.Fetcher for National Institutes of
// Health consumer and clinical content served through the aulavox search
// gateway. PubMed, although operated by NIH, is a separate fetcher speaking
// the E-utilities protocol directly; this origin covers the institute pages
// and health-topic summaries.
package nih

import (
	"github.com/aulavox/aulavox/internal/fetch/gateway"
	"github.com/aulavox/aulavox/pkg/types"
)

// DefaultCategory classifies NIH material the gateway did not categorize.
const DefaultCategory = "clinical"

// New creates an NIH fetcher backed by the gateway at serverURL. Extra
// options are applied after the NIH defaults and may override them.
func New(serverURL string, opts ...gateway.Option) (*gateway.Client, error) {
	base := []gateway.Option{
		gateway.WithOfficial(true),
		gateway.WithContentCategory(DefaultCategory),
	}
	return gateway.New(types.SourceNIH, serverURL, append(base, opts...)...)
}
