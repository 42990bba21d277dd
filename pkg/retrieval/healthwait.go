package retrieval

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ragpipe/ragcore/pkg/logger"
	"github.com/ragpipe/ragcore/pkg/pipelineerr"
)

// Dependency is one downstream service to health-check before serving
// traffic.
type Dependency struct {
	Name       string
	HealthURL  string
}

// WaitForDependencies polls each dependency's health endpoint with
// exponential backoff (1s, 2s, 4s, ...) until it answers 200 or maxAttempts
// is exhausted, grounded on the Python intent service's startup
// wait_for_dependency loop.
func WaitForDependencies(ctx context.Context, deps []Dependency, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	client := &http.Client{Timeout: 5 * time.Second}

	for _, dep := range deps {
		healthy := false
		for attempt := 0; attempt < maxAttempts; attempt++ {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, dep.HealthURL, nil)
			if err == nil {
				resp, err := client.Do(req)
				if err == nil {
					resp.Body.Close()
					if resp.StatusCode == http.StatusOK {
						healthy = true
						break
					}
				}
			}

			logger.FromContext(ctx).Info("waiting for dependency",
				"dependency", dep.Name, "attempt", attempt+1, "max_attempts", maxAttempts)

			select {
			case <-ctx.Done():
				return pipelineerr.NewTimeout("retrieval.WaitForDependencies", ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}
		if !healthy {
			return pipelineerr.NewUnreachable("retrieval.WaitForDependencies",
				fmt.Errorf("dependency %q did not become healthy after %d attempts", dep.Name, maxAttempts))
		}
		logger.FromContext(ctx).Info("dependency healthy", "dependency", dep.Name)
	}
	return nil
}

func backoff(attempt int) time.Duration {
	d := time.Second << attempt
	const cap = 30 * time.Second
	if d > cap {
		d = cap
	}
	return d
}
