package transport

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"crashrelay/internal/worker"
)

// Async delivers payloads on a worker pool so callers never wait for the
// network. There is no retry: a failed delivery is logged and dropped.
type Async struct {
	client *Client
	pool   *worker.Pool
}

func NewAsync(client *Client, pool *worker.Pool) *Async {
	return &Async{client: client, pool: pool}
}

// Send schedules a POST of payload to url. done, if non-nil, runs on the
// delivery goroutine with the outcome.
func (a *Async) Send(url string, payload any, done func(Response, error)) {
	err := a.pool.Submit("deliver "+url, func(ctx context.Context) error {
		resp, err := a.client.Post(ctx, url, payload)
		switch {
		case err != nil:
			deliveriesTotal.WithLabelValues("error").Inc()
			log.Error().Err(err).Str("url", url).Msg("delivery failed")
		case resp.StatusCode != http.StatusOK:
			deliveriesTotal.WithLabelValues("rejected").Inc()
			log.Warn().Int("status", resp.StatusCode).Str("url", url).Msg("delivery rejected")
		default:
			deliveriesTotal.WithLabelValues("ok").Inc()
			log.Debug().Str("url", url).Msg("delivered")
		}
		if done != nil {
			done(resp, err)
		}
		return nil
	})
	if err != nil {
		deliveriesTotal.WithLabelValues("dropped").Inc()
		log.Error().Err(err).Str("url", url).Msg("delivery dropped")
		if done != nil {
			done(Response{StatusCode: StatusUnavailable}, err)
		}
	}
}
