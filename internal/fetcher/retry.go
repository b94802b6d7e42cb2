package fetcher

import (
	"fmt"
	"net/http"
	"time"
)

const maxFetchAttempts = 3

var retryBaseDelay = time.Second

// doWithRetry issues the request up to maxFetchAttempts times with
// exponential backoff. Transport errors and 5xx responses retry; any
// other response is returned to the caller as-is.
func doWithRetry(client *http.Client, req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	var lastErr error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(retryBaseDelay << (attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			resp.Body.Close()
			lastErr = fmt.Errorf("http %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}
