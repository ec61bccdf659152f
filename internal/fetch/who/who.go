// Package who provides the research.Fetcher for World Health Organization
// content. WHO publishes no machine-readable search API, so deployments
// front its fact sheets and guideline pages with the aulavox search gateway;
// this package pins the gateway client to the WHO origin and its
// institutional defaults.
package who

import (
	"github.com/aulavox/aulavox/internal/fetch/gateway"
	"github.com/aulavox/aulavox/pkg/types"
)

// DefaultCategory classifies WHO material the gateway did not categorize.
// WHO output is dominated by surveillance reports and fact sheets.
const DefaultCategory = "epidemiology"

// New creates a WHO fetcher backed by the gateway at serverURL. Extra
// options are applied after the WHO defaults and may override them.
func New(serverURL string, opts ...gateway.Option) (*gateway.Client, error) {
	base := []gateway.Option{
		gateway.WithOfficial(true),
		gateway.WithContentCategory(DefaultCategory),
	}
	return gateway.New(types.SourceWHO, serverURL, append(base, opts...)...)
}
