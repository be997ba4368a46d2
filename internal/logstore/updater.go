package logstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/bl4ck0w1/ctlynx/pkg/utils"
)

// DefaultLogListURL is the published google log-list v3 document.
const DefaultLogListURL = "https://www.gstatic.com/ct/log_list/v3/log_list.json"

const maxLogListSize = 8 << 20

// Updater periodically fetches the published log list, rebuilds the store
// and publishes it through the holder. The engine itself never performs
// I/O; this is the external loader collaborator.
type Updater struct {
	url     string
	holder  *Holder
	client  *http.Client
	limiter *rate.Limiter
	logger  *logrus.Logger
}

func NewUpdater(url string, holder *Holder, logger *logrus.Logger) *Updater {
	if url == "" {
		url = DefaultLogListURL
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Updater{
		url:    url,
		holder: holder,
		client: utils.DefaultHTTPClient(),
		// The published list changes at most a few times a day; one fetch
		// per minute is already generous.
		limiter: rate.NewLimiter(rate.Every(time.Minute), 1),
		logger:  logger,
	}
}

// Refresh fetches the list once, loads it and swaps the holder to the new
// snapshot. The previous snapshot stays valid for evaluations already
// holding it.
func (u *Updater) Refresh(ctx context.Context) (*Store, error) {
	if err := u.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.url, nil)
	if err != nil {
		return nil, fmt.Errorf("logstore: create request: %w", err)
	}
	req.Header.Set("User-Agent", "ctlynx log-list updater")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("logstore: fetch log list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("logstore: unexpected status %d from %s", resp.StatusCode, u.url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLogListSize))
	if err != nil {
		return nil, fmt.Errorf("logstore: read log list: %w", err)
	}

	store, err := Load(body, u.logger)
	if err != nil {
		return nil, err
	}

	if u.holder != nil {
		u.holder.Swap(store)
	}
	u.logger.WithFields(logrus.Fields{
		"logs":  store.Len(),
		"state": store.State(),
	}).Info("Refreshed CT log list")
	return store, nil
}

// Run refreshes on the given interval until the context is cancelled.
// Failures keep the previous snapshot and are retried next tick.
func (u *Updater) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := u.Refresh(ctx); err != nil {
				u.logger.Warnf("Log list refresh failed: %v", err)
			}
		}
	}
}
