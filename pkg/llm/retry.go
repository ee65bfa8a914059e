package llm

import (
	"context"
	"net/http"
	"time"

	"gudagent/pkg/clients"
)

const (
	maxRetries     = 3
	requestTimeout = 60 * time.Second
)

func newHTTPClient(name string) *clients.HTTPClient {
	cfg := clients.DefaultHTTPExecutorConfig()
	cfg.MaxRetries = maxRetries
	cfg.BaseDelay = 500 * time.Millisecond
	cfg.MaxDelay = 8 * time.Second
	breaker := clients.DefaultCircuitBreakerConfig("llm-" + name)
	cfg.CircuitBreaker = &breaker
	return clients.NewHTTPClient(requestTimeout, cfg)
}

// doWithRetry sends the request built by build, retrying 429/5xx and transport errors.
func doWithRetry(ctx context.Context, client *clients.HTTPClient, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	return client.Do(ctx, build)
}
