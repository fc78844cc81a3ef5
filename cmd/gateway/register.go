package main

import (
	"context"
	"log"
	"time"

	"github.com/crossknight/examples/pkg/ndid"
)

// registerCallbacksLoop registers this service's webhook URLs with the
// platform, retrying forever with a fixed delay. The HTTP listeners start
// independently; a webhook arriving before registration completes is
// processed normally.
func (s *Server) registerCallbacksLoop(ctx context.Context) {
	urls := ndid.CallbackURLs{
		IncomingRequestURL: s.CallbackBase + "/idp/request",
		AccessorEncryptURL: s.CallbackBase + "/idp/accessor/encrypt",
	}
	for attempt := 1; ; attempt++ {
		err := s.NDID.SetCallbackURLs(ctx, urls)
		s.Metrics.IncUpstream("set_callback_urls", err == nil)
		if err == nil {
			log.Printf("gateway: callback URLs registered after %d attempt(s)", attempt)
			return
		}
		log.Printf("gateway: set callback URLs: %v (retrying in %s)", err, s.RegisterRetryDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.RegisterRetryDelay):
		}
	}
}
