package indengine

import (
	"context"

	"stochroc/internal/indicator"
)

// consume drains the pending entries this consumer already owns, then
// follows the streams through the consumer group until ctx is done.
func (svc *Service) consume(ctx context.Context) error {
	if len(svc.streams) == 0 {
		<-ctx.Done()
		return nil
	}

	n, err := svc.reader.RecoverPending(ctx, svc.streams, svc.candles)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		svc.log.Warn("pending recovery failed", "err", err)
	} else if n > 0 {
		svc.log.Info("recovered pending entries", "count", n)
	}

	return svc.reader.Consume(ctx, svc.streams, svc.candles)
}

// subscribeConfig listens on the config channel for indicator spec updates
// such as "MIN:20,ROC:5" and reloads every enabled timeframe with them.
func (svc *Service) subscribeConfig(ctx context.Context) error {
	pubsub, err := svc.reader.SubscribeChannel(ctx, svc.cfg.ConfigChannel)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		// Live reload over pub/sub is optional; /reload still works.
		svc.log.Warn("config subscription unavailable", "channel", svc.cfg.ConfigChannel, "err", err)
		return nil
	}
	defer pubsub.Close()
	svc.log.Info("subscribed for dynamic reload", "channel", svc.cfg.ConfigChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			svc.log.Info("received config update", "payload", msg.Payload)
			specs, err := ParseIndicatorSpecs(msg.Payload)
			if err != nil {
				svc.prom.ReloadsTotal.WithLabelValues("rejected").Inc()
				svc.log.Warn("ignoring config update", "err", err)
				continue
			}
			res, err := svc.requestReload(ctx, BuildIndicatorConfigs(svc.cfg.EnabledTFs, specs))
			if err != nil {
				svc.log.Warn("config reload failed", "err", err)
				continue
			}
			svc.log.Info("reloaded indicator configs", "preserved", res.Preserved, "created", res.Created)
		}
	}
}

// requestReload hands configs to the process loop and waits for the result.
func (svc *Service) requestReload(ctx context.Context, configs []indicator.TFIndicatorConfig) (reloadResult, error) {
	req := reloadRequest{configs: configs, reply: make(chan reloadResult, 1)}
	select {
	case svc.reloads <- req:
	case <-ctx.Done():
		return reloadResult{}, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res, res.err
	case <-ctx.Done():
		return reloadResult{}, ctx.Err()
	}
}
